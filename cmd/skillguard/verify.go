package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/skillguard/skillguard-core/pkg/certchain"
	"github.com/skillguard/skillguard-core/pkg/skill"
	"github.com/spf13/cobra"
)

var (
	verifyBody      string
	verifySignature string
	verifyCertURL   string
	verifyTimestamp string
	verifyTolerance time.Duration
	verifySkipTime  bool
)

type verifyInput struct {
	Body         []byte
	Signature    string
	CertChainURL string
	Timestamp    time.Time
	Tolerance    time.Duration
	SkipTime     bool
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a captured skill request",
	Long: `Verify a captured skill request body against its Signature and
SignatureCertChainUrl headers. The timestamp is read from the envelope unless
--timestamp is given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		body, err := os.ReadFile(verifyBody)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}

		in := verifyInput{
			Body:         body,
			Signature:    verifySignature,
			CertChainURL: verifyCertURL,
			Tolerance:    verifyTolerance,
			SkipTime:     verifySkipTime,
		}
		if verifyTimestamp != "" {
			in.Timestamp, err = time.Parse(time.RFC3339Nano, verifyTimestamp)
			if err != nil {
				return fmt.Errorf("invalid --timestamp: %w", err)
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		resolver, err := newResolver(cfg.Certs)
		if err != nil {
			return err
		}

		return runVerify(cmd.Context(), cmd.OutOrStdout(), in, resolver, time.Now)
	},
}

// runVerify runs each verifier separately so every failure is reported,
// and returns an error if any of them rejected the request.
func runVerify(ctx context.Context, out io.Writer, in verifyInput, resolver *certchain.Resolver, now func() time.Time) error {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()

	req := &skill.Request{
		Signature:    in.Signature,
		CertChainURL: in.CertChainURL,
		Body:         in.Body,
		Timestamp:    in.Timestamp,
	}
	if req.Timestamp.IsZero() {
		if env, err := skill.ParseEnvelope(in.Body); err == nil {
			req.Timestamp = env.Request.Timestamp.Time
		} else {
			fmt.Fprintf(out, "%s envelope: %v\n", bad("✗"), err)
		}
	}

	type check struct {
		name     string
		verifier skill.Verifier
	}
	var checks []check

	if in.SkipTime {
		fmt.Fprintf(out, "%s timestamp: skipped\n", dim("-"))
	} else {
		tv, err := skill.NewTimestampVerifier(in.Tolerance, now)
		if err != nil {
			return err
		}
		checks = append(checks, check{"timestamp", tv})
	}
	checks = append(checks, check{"signature", skill.NewSignatureVerifier(resolver)})

	failed := 0
	for _, c := range checks {
		if err := c.verifier.Verify(ctx, req); err != nil {
			failed++
			fmt.Fprintf(out, "%s %s: %v\n", bad("✗"), c.name, err)
			continue
		}
		fmt.Fprintf(out, "%s %s\n", ok("✓"), c.name)
	}

	if failed > 0 {
		return fmt.Errorf("request rejected: %d of %d checks failed", failed, len(checks))
	}
	fmt.Fprintln(out, ok("request verified"))
	return nil
}

func init() {
	verifyCmd.Flags().StringVar(&verifyBody, "body", "", "Path to the raw request body")
	verifyCmd.Flags().StringVar(&verifySignature, "signature", "", "Value of the Signature header")
	verifyCmd.Flags().StringVar(&verifyCertURL, "cert-url", "", "Value of the SignatureCertChainUrl header")
	verifyCmd.Flags().StringVar(&verifyTimestamp, "timestamp", "", "RFC 3339 timestamp overriding the envelope's")
	verifyCmd.Flags().DurationVar(&verifyTolerance, "tolerance", skill.DefaultTolerance, "Allowed timestamp drift")
	verifyCmd.Flags().BoolVar(&verifySkipTime, "skip-timestamp", false, "Skip the timestamp check (for old captures)")
	_ = verifyCmd.MarkFlagRequired("body")

	rootCmd.AddCommand(verifyCmd)
}
