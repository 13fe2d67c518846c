package main

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/skillguard/skillguard-core/pkg/certchain"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var certJWK bool

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Inspect Alexa signing certificates",
}

var certFetchCmd = &cobra.Command{
	Use:   "fetch <url> [url...]",
	Short: "Fetch and validate signing certificates",
	Long: `Fetch each SignatureCertChainUrl with the same rules the gateway applies
and print the validated signing certificate, or its public JWK with --jwk.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		resolver, err := newResolver(cfg.Certs)
		if err != nil {
			return err
		}
		return runCertFetch(cmd.Context(), cmd.OutOrStdout(), resolver, args, certJWK)
	},
}

// runCertFetch resolves every URL concurrently and prints the results in
// argument order.
func runCertFetch(ctx context.Context, out io.Writer, resolver *certchain.Resolver, urls []string, asJWK bool) error {
	chains := make([][]*x509.Certificate, len(urls))
	errs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, u := range urls {
		g.Go(func() error {
			chains[i], errs[i] = resolver.ResolveChain(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, u := range urls {
		if errs[i] != nil {
			failed++
			fmt.Fprintf(out, "%s %s\n  %v\n", color.RedString("✗"), u, errs[i])
			continue
		}
		if asJWK {
			if err := printJWK(out, chains[i]); err != nil {
				return err
			}
			continue
		}
		printCert(out, u, chains[i])
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d certificates failed validation", failed, len(urls))
	}
	return nil
}

func printCert(out io.Writer, u string, chain []*x509.Certificate) {
	cert := chain[0]
	fmt.Fprintf(out, "%s %s\n", color.GreenString("✓"), u)
	fmt.Fprintf(out, "  subject:   %s\n", cert.Subject)
	fmt.Fprintf(out, "  issuer:    %s\n", cert.Issuer)
	fmt.Fprintf(out, "  not after: %s\n", cert.NotAfter.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "  dns names: %s\n", strings.Join(cert.DNSNames, ", "))
	fmt.Fprintf(out, "  chain:     %d certificates\n", len(chain))
}

func printJWK(out io.Writer, chain []*x509.Certificate) error {
	jwk, err := certchain.ToJWK(chain)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jwk)
}

func init() {
	certFetchCmd.Flags().BoolVar(&certJWK, "jwk", false, "Print the public key as a JWK")

	rootCmd.AddCommand(certCmd)
	certCmd.AddCommand(certFetchCmd)
}
