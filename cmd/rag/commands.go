package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/dangattringer/rust-rag/internal/api"
	"github.com/dangattringer/rust-rag/internal/config"
	"github.com/dangattringer/rust-rag/internal/domain"
	"github.com/dangattringer/rust-rag/internal/service"
	"github.com/dangattringer/rust-rag/internal/tui"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

// retrievalFlags are shared by query, ask and explore.
type retrievalFlags struct {
	k        int
	docs     stringList
	exclude  stringList
	minScore *float64
}

func addRetrievalFlags(e *env, fs *flag.FlagSet) *retrievalFlags {
	r := &retrievalFlags{minScore: e.cfg.Retrieval.MinScore}
	fs.IntVar(&r.k, "k", e.cfg.Retrieval.TopK, "Number of chunks to retrieve")
	fs.Var(&r.docs, "doc", "Only return chunks of this document (repeatable)")
	fs.Var(&r.exclude, "exclude", "Never return chunks of this document (repeatable)")
	fs.Func("min-score", "Drop chunks scoring below this value", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		r.minScore = &f
		return nil
	})
	return r
}

func (r *retrievalFlags) filters() domain.Filters {
	return domain.Filters{Documents: r.docs, ExcludeDocuments: r.exclude, MinScore: r.minScore}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runIngest(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("ingest", e)
	workers := fs.Int("workers", 0, "Documents processed concurrently (default from config)")
	asJSON := fs.Bool("json", false, "Print the summary as JSON")
	sources, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return usageError{"ingest needs at least one source: crate:NAME[@VERSION], a file, a directory or a glob"}
	}
	if *workers > 0 {
		e.cfg.Ingest.Workers = *workers
	}

	a, err := assemble(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if t := config.Seconds(e.cfg.Ingest.TimeoutSecs); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	summary, runErr := a.svc.IngestSources(ctx, a.source, sources)
	if *asJSON {
		if err := writeJSON(e.stdout, summary); err != nil {
			return err
		}
	} else {
		printSummary(e.stdout, summary)
	}
	if runErr != nil {
		return runErr
	}
	if err := summary.Err(); err != nil {
		return fmt.Errorf("%d inputs failed, first: %w", len(summary.Failed), err)
	}
	return nil
}

func printSummary(w io.Writer, s *service.IngestSummary) {
	fmt.Fprintf(w, "run %s: %s documents, %s chunks in %s\n",
		s.RunID, humanize.Comma(int64(s.Documents)), humanize.Comma(int64(s.Chunks)), s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  succeeded %d, unchanged %d, failed %d, warnings %d\n",
		len(s.Succeeded), len(s.Unchanged), len(s.Failed), len(s.Warnings))
	for _, f := range s.Failed {
		fmt.Fprintf(w, "  FAILED %s [%s] %s: %s\n", f.DocumentID, f.Stage, f.Kind, f.Message)
	}
	for _, wn := range s.Warnings {
		fmt.Fprintf(w, "  WARN   %s %s: %s\n", wn.DocumentID, wn.Kind, wn.Message)
	}
}

func runQuery(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("query", e)
	rf := addRetrievalFlags(e, fs)
	asJSON := fs.Bool("json", false, "Print results as JSON")
	words, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	text := strings.Join(words, " ")
	if strings.TrimSpace(text) == "" {
		return usageError{"query needs text"}
	}

	a, err := assemble(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Query(ctx, text, rf.k, rf.filters())
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(e.stdout, api.NewQueryResponse(res))
	}
	if len(res.Results) == 0 {
		fmt.Fprintln(e.stdout, "no results")
		return nil
	}
	for i, sc := range res.Results {
		printChunk(e.stdout, fmt.Sprintf("%d. %.4f  %s #%d", i+1, sc.Score, sc.Chunk.DocumentID, sc.Chunk.Index), sc.Chunk)
	}
	return nil
}

func printChunk(w io.Writer, header string, c domain.Chunk) {
	if len(c.HeadingPath) > 0 {
		header += "  [" + strings.Join(c.HeadingPath, " > ") + "]"
	}
	fmt.Fprintln(w, header)
	for _, line := range strings.Split(strings.TrimSpace(c.Text), "\n") {
		fmt.Fprintln(w, "   "+line)
	}
	fmt.Fprintln(w)
}

func runAsk(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("ask", e)
	rf := addRetrievalFlags(e, fs)
	asJSON := fs.Bool("json", false, "Print the answer and its context as JSON")
	words, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	question := strings.Join(words, " ")
	if strings.TrimSpace(question) == "" {
		return usageError{"ask needs a question"}
	}

	a, err := assemble(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.svc.Ask(ctx, question, rf.k, rf.filters())
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(e.stdout, api.NewAskResponse(answer))
	}
	fmt.Fprintln(e.stdout, strings.TrimSpace(answer.Text))
	return nil
}

func runDocs(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("docs", e)
	asJSON := fs.Bool("json", false, "Print documents as JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	a, err := assemble(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.svc.Documents(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		out := make([]api.DocumentResponse, 0, len(docs))
		for _, d := range docs {
			out = append(out, api.NewDocumentResponse(d))
		}
		return writeJSON(e.stdout, out)
	}
	for _, d := range docs {
		fmt.Fprintf(e.stdout, "%s\t%s\t%d chunks\t%s\t%s\n",
			d.ID, d.Format, d.Chunks, humanize.Bytes(uint64(d.Bytes)), humanize.Time(d.IngestedAt))
	}
	st, err := a.svc.Status(ctx)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s documents, corpus %s", humanize.Comma(int64(len(docs))), st.Version)
	if st.Stale {
		line += " (stale: the next ingest rebuilds it)"
	}
	fmt.Fprintln(e.stdout, line)
	return nil
}

func runChunks(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("chunks", e)
	asJSON := fs.Bool("json", false, "Print chunks as JSON")
	ids, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return usageError{"chunks needs exactly one document id"}
	}
	a, err := assemble(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	chunks, err := a.svc.Chunks(ctx, ids[0])
	if err != nil {
		return err
	}
	if *asJSON {
		out := make([]api.ChunkResponse, 0, len(chunks))
		for _, c := range chunks {
			out = append(out, api.NewChunkResponse(c))
		}
		return writeJSON(e.stdout, out)
	}
	for _, c := range chunks {
		printChunk(e.stdout, fmt.Sprintf("#%d [%d,%d) %d tokens, %s", c.Index, c.Start, c.End, c.TokenCount, c.Strategy), c)
	}
	return nil
}

func runStatus(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("status", e)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	a, err := assemble(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.svc.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "corpus version: %s\nfingerprint:    %s\ndocuments:      %d\nindex entries:  %d\nstale:          %t\n",
		st.Version, st.Fingerprint, st.Documents, st.Entries, st.Stale)
	return nil
}

func runServe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("serve", e)
	addr := fs.String("addr", e.cfg.Server.Addr, "Listen address")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	a, err := assemble(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := e.logger
	handler := api.NewHandler(a.svc, e.cfg.Retrieval.TopK, &logger)
	server := http.Server{
		Addr:         *addr,
		Handler:      api.NewServer(handler, e.cfg.Server.AllowedOrigins, &logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: config.Seconds(e.cfg.Retrieval.TimeoutSecs) + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	if e.cfg.Server.RefreshSecs > 0 {
		go refreshLoop(refreshCtx, a.svc, config.Seconds(e.cfg.Server.RefreshSecs), logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", *addr).Msg("Starting server")
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// refreshLoop reloads the index whenever another process changed the corpus.
func refreshLoop(ctx context.Context, svc *service.RAGService, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("Index refresh failed")
			}
		}
	}
}

func runExplore(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("explore", e)
	rf := addRetrievalFlags(e, fs)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	a, err := assemble(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.svc.Status(ctx)
	if err != nil {
		return err
	}
	if st.Entries == 0 {
		return fmt.Errorf("%w: ingest documents before exploring", domain.ErrEmptyIndex)
	}
	version := st.Version
	if len(version) > 12 {
		version = version[:12]
	}
	summary := fmt.Sprintf("%d documents, %s chunks, corpus %s", st.Documents, humanize.Comma(int64(st.Entries)), version)
	_, err = tea.NewProgram(tui.New(ctx, a.svc, rf.k, rf.filters(), summary), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
