package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/metacog/go-controller/internal/field"
	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
	"github.com/danielpatrickdp/metacog/go-controller/internal/session"
)

var (
	chatSession string
	chatMetrics bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat over one persistent session",
	Long: `Reads one query per line and answers it through the critique loop.

Commands:
  /reset    start the session over
  /audit    print the session's gate decisions
  /memory   print anchors, commitments and stats
  /score Q  score query Q without producing text
  quit      save and exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id (new uuid when empty)")
	chatCmd.Flags().BoolVar(&chatMetrics, "metrics", false, "serve /metrics on the configured address")
}

// #region main
func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	if chatMetrics && cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	s, err := a.registry.Get(ctx, chatSession)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "metacog ready.")
	fmt.Fprintf(out, "  Session: %s | Producer: %s | Store: %s\n", s.ID(), cfg.Producer.Provider, cfg.Store.Driver)
	fmt.Fprintln(out, "Type a query (or 'quit' to exit):")

	return chatLoop(ctx, a.registry, s.ID(), cmd.InOrStdin(), out)
}

func chatLoop(ctx context.Context, reg *session.Registry, id string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if q, ok := strings.CutPrefix(line, "/score "); ok {
			s, err := reg.Get(ctx, id)
			if err != nil {
				return err
			}
			printScore(out, s, strings.TrimSpace(q))
			continue
		}
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "/reset":
			if _, err := reg.Reset(ctx, id); err != nil {
				fmt.Fprintf(out, "reset error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "session reset.")
			continue
		case "/audit":
			s, err := reg.Get(ctx, id)
			if err != nil {
				return err
			}
			printAudit(out, s.AuditLog())
			continue
		case "/memory":
			s, err := reg.Get(ctx, id)
			if err != nil {
				return err
			}
			printState(out, s.State(), cfg.Field)
			continue
		}

		res, err := reg.Chat(ctx, id, line, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n\n", res.Action.Content)
		fmt.Fprintf(out, "[%s] verdict=%s kappa=%.2f tau=%.2f sigma=%.2f coherence=%.2f reflections=%d\n",
			id, res.Action.Verdict, res.Action.Scores.Kappa, res.Action.Scores.Tau, res.Action.Scores.Sigma,
			res.Coherence, res.Reflections)
	}
}

// #endregion main

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.telemetry.Handler())
	return mux
}

// glyphOf runs a field over the kappa trace of a session's audit log.
func glyphOf(kappas []float64, fc field.FieldConfig) string {
	if len(kappas) == 0 {
		return "-"
	}
	f := field.NewField(fc)
	f.Run(kappas)
	return fmt.Sprintf("%s after %d ticks", field.Glyph(f.State()), f.Ticks())
}

// pillarKeywords are the longer words of the outline pillars, lowercased.
func pillarKeywords() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range loop.Pillars {
		for _, w := range strings.FieldsFunc(p, func(r rune) bool { return !unicode.IsLetter(r) }) {
			w = strings.ToLower(w)
			if len(w) >= 6 && !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	return out
}

// printScore shows what harmonize makes of a query without producing text.
func printScore(out io.Writer, s *session.Session, query string) {
	obs, outline := s.Harmonize(map[string]any{"query": query})
	fmt.Fprintf(out, "signal=%.2f plan=%.0f urgency=%.0f  kappa=%.2f tau=%.2f sigma=%.2f\n",
		obs.Features[loop.FeatureSignalQuality], obs.Features[loop.FeatureIntentPlan], obs.Features[loop.FeatureUrgency],
		outline.Scores.Kappa, outline.Scores.Tau, outline.Scores.Sigma)
}
