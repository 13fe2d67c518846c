package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/skillguard/skillguard-core/internal/config"
	"github.com/skillguard/skillguard-core/internal/server"
	"github.com/skillguard/skillguard-core/internal/telemetry"
	"github.com/skillguard/skillguard-core/pkg/gateway"
	"github.com/skillguard/skillguard-core/pkg/skill"
	"github.com/spf13/cobra"
)

var (
	gatewayPort   int
	gatewayTarget string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the skillguard gateway",
}

var gatewayStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start an HTTP server that verifies every skill request. With a target
the verified requests are proxied to it; without one the server answers with
the built-in echo skill, which is useful for end-to-end testing.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// 1. Load config
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = gatewayPort
		}
		if cmd.Flags().Changed("target") {
			cfg.Gateway.Target = gatewayTarget
		}

		logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
		telemetry.SetDefault(logger)

		// 2. Build handler
		handler, err := newSkillEndpoint(cfg, logger)
		if err != nil {
			return err
		}
		if skill.SignatureCheckDisabled() {
			logger.Warn("request signature verification is disabled", "env", skill.DisableSignatureCheckEnv)
		}

		// 3. Serve
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		srv := server.New(cfg.Server.Addr(), server.Dependencies{
			SkillPath:    cfg.Server.Path,
			SkillHandler: handler,
			Logger:       logger,
		})
		logger.Info("gateway configured",
			"path", cfg.Server.Path,
			"target", cfg.Gateway.Target,
			"signature", cfg.Verifiers.Signature.Enabled,
			"timestamp", cfg.Verifiers.Timestamp.Enabled)
		return srv.Start(ctx)
	},
}

// newSkillEndpoint returns the verifying handler for cfg: a reverse proxy
// when a target is configured, the echo skill otherwise.
func newSkillEndpoint(cfg *config.Config, logger *slog.Logger) (http.Handler, error) {
	resolver, err := newResolver(cfg.Certs)
	if err != nil {
		return nil, err
	}
	pipeline, err := newPipeline(cfg.Verifiers, resolver)
	if err != nil {
		return nil, err
	}

	opts := gateway.Options{MaxBodyBytes: cfg.Server.MaxBodyBytes, Logger: logger}
	if cfg.Gateway.Target != "" {
		gw, err := gateway.NewGateway(cfg.Gateway.Target, pipeline, opts)
		if err != nil {
			return nil, err
		}
		return gw, nil
	}
	return gateway.Middleware(pipeline, opts)(gateway.NewSkillHandler(logger, echoSkill())), nil
}

// echoSkill answers every request with its type, so a deployment can be
// checked from the Alexa developer console.
func echoSkill() gateway.Skill {
	return gateway.SkillFunc(func(_ context.Context, env *skill.Envelope) (json.RawMessage, error) {
		return json.Marshal(map[string]any{
			"version": "1.0",
			"response": map[string]any{
				"outputSpeech": map[string]string{
					"type": "PlainText",
					"text": "Verified " + env.Request.Type,
				},
				"shouldEndSession": true,
			},
		})
	})
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.AddCommand(gatewayStartCmd)

	gatewayStartCmd.Flags().IntVar(&gatewayPort, "port", 8080, "Port to listen on (overrides server.port)")
	gatewayStartCmd.Flags().StringVar(&gatewayTarget, "target", "", "Upstream skill URL (overrides gateway.target)")
}
