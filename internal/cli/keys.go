package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/narrator/internal/infra/rpc/keypool"
	"github.com/vietddude/narrator/internal/narration/health"
)

var serverAddr string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Show API key status from a running server",
	Long: `Reads the live key pool from the /health/detailed endpoint of a running
"narrator serve". When no server answers, the configured keys are listed
without any runtime state.`,
	RunE: runKeys,
}

func init() {
	keysCmd.Flags().StringVar(&serverAddr, "addr", "", "server address (default http://localhost:<server.port>)")
	rootCmd.AddCommand(keysCmd)
}

func runKeys(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	addr := serverAddr
	if addr == "" {
		addr = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	keys := cfg.APIKeys()

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()

	report, err := fetchReport(ctx, addr)
	if err != nil {
		slog.Warn("Server not reachable, listing configured keys", "addr", addr, "error", err)
		_, _ = fmt.Fprintln(os.Stdout, "Configured keys (no runtime state):")
		return writeKeyTable(os.Stdout, keys, keypool.New(keys).Status())
	}

	_, _ = fmt.Fprintf(os.Stdout, "Live key pool from %s (status %s):\n", addr, report.Status)
	return writeKeyTable(os.Stdout, keys, report.Credentials)
}

// fetchReport reads the detailed health report of a running server.
func fetchReport(ctx context.Context, addr string) (*health.Report, error) {
	url := strings.TrimRight(addr, "/") + "/health/detailed"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

// writeKeyTable prints one row per credential. Keys are matched by position
// and shown redacted.
func writeKeyTable(out io.Writer, keys []string, creds []keypool.CredentialStatus) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "POSITION\tKEY\tCURRENT\tAVAILABLE\tAVAILABLE IN\tERRORS\tBLOCKED")
	for _, st := range creds {
		key := keypool.PlaceholderSecret
		if st.Position < len(keys) {
			key = keypool.Redact(keys[st.Position])
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%t\t%ds\t%d\t%t\n",
			st.Position, key, st.Current, st.Available, st.AvailableInSeconds, st.ErrorCount, st.Blocked)
	}
	return w.Flush()
}
