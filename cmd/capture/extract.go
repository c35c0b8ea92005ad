package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/dvloznov/finance-capture/internal/capture"
	"github.com/dvloznov/finance-capture/internal/domain"
	"github.com/dvloznov/finance-capture/internal/media"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type extractFlags struct {
	Language  string `short:"l" help:"Language of the input as an ISO 639-1 code. Detected when empty."`
	Save      bool   `help:"Store the transaction and its extraction run in the data backend."`
	Household string `help:"Household that owns a saved transaction."`
	User      string `help:"User that owns a saved transaction."`
}

func (f extractFlags) request(modality domain.Modality, input string) capture.Request {
	return capture.Request{
		Modality:    modality,
		Input:       input,
		Language:    f.Language,
		HouseholdID: f.Household,
		UserID:      f.User,
	}
}

type textCmd struct {
	Text  string       `arg:"" help:"Transaction description, or - to read standard input."`
	Flags extractFlags `embed:""`
}

func (c *textCmd) Run(rt *runtime) error {
	text := c.Text
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read standard input: %w", err)
		}
		text = string(data)
	}
	return runSingle(rt, c.Flags.request(domain.ModalityText, text), c.Flags.Save)
}

type imageCmd struct {
	Ref   string       `arg:"" help:"Image URL, gs:// URI or local file."`
	Flags extractFlags `embed:""`
}

func (c *imageCmd) Run(rt *runtime) error {
	ref, err := resolveRef(c.Ref)
	if err != nil {
		return err
	}
	return runSingle(rt, c.Flags.request(domain.ModalityImage, ref), c.Flags.Save)
}

type audioCmd struct {
	Ref   string       `arg:"" help:"Audio URL, gs:// URI or local file."`
	Flags extractFlags `embed:""`
}

func (c *audioCmd) Run(rt *runtime) error {
	ref, err := resolveRef(c.Ref)
	if err != nil {
		return err
	}
	return runSingle(rt, c.Flags.request(domain.ModalityAudio, ref), c.Flags.Save)
}

// resolveRef turns a local file into a data: URI. URLs pass through.
func resolveRef(ref string) (string, error) {
	if u, err := url.Parse(ref); err == nil {
		switch u.Scheme {
		case "http", "https", "gs", "data":
			return ref, nil
		}
	}
	res, err := media.ReadFile(ref)
	if err != nil {
		return "", err
	}
	return res.DataURL(), nil
}

// output is what text, image and audio print, one JSON document per input.
type output struct {
	Line        int                      `json:"line,omitempty"`
	Result      *domain.ExtractionResult `json:"result,omitempty"`
	Transcript  string                   `json:"transcript,omitempty"`
	Transaction *domain.Transaction      `json:"transaction,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

func process(ctx context.Context, svc *capture.Service, req capture.Request, save bool) (output, error) {
	if save {
		res, err := svc.Capture(ctx, req)
		if err != nil {
			return output{}, err
		}
		return output{Result: &res.Extraction, Transaction: res.Transaction}, nil
	}

	resp, err := svc.Extract(ctx, req)
	if err != nil {
		return output{}, err
	}
	return output{Result: &resp.Result, Transcript: resp.Transcript}, nil
}

func runSingle(rt *runtime, req capture.Request, save bool) error {
	a, err := rt.services()
	if err != nil {
		return err
	}
	if save && rt.cfg.DataBackend == "memory" {
		rt.log.Warn().Msg("The memory backend forgets saved transactions on exit")
	}

	out, err := process(rt.ctx, a.Capture, req, save)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, summary(*out.Result))
	return nil
}

func summary(r domain.ExtractionResult) string {
	who := r.Merchant
	if who == "" {
		who = r.Payee
	}
	s := fmt.Sprintf("%s %s", r.Type, formatAmount(decimal.NewFromFloat(r.Amount), r.Currency))
	if who != "" {
		s += " at " + who
	}
	return s + " on " + r.Date
}

type batchCmd struct {
	Modality    string       `arg:"" enum:"text,image,audio" help:"Modality of every input: text, image or audio."`
	File        string       `arg:"" help:"File with one input per line, or - for standard input."`
	Concurrency int          `short:"c" default:"4" help:"Inputs processed at once."`
	Flags       extractFlags `embed:""`
}

func (c *batchCmd) Run(rt *runtime) error {
	in := io.Reader(os.Stdin)
	if c.File != "-" {
		f, err := os.Open(c.File)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	lines, err := readLines(in)
	if err != nil {
		return err
	}

	a, err := rt.services()
	if err != nil {
		return err
	}

	modality := domain.Modality(c.Modality)
	outputs := make([]output, len(lines))

	g, ctx := errgroup.WithContext(rt.ctx)
	g.SetLimit(max(c.Concurrency, 1))
	for i, line := range lines {
		g.Go(func() error {
			input := line.text
			if modality != domain.ModalityText {
				ref, err := resolveRef(input)
				if err != nil {
					outputs[i] = output{Line: line.number, Error: err.Error()}
					return nil
				}
				input = ref
			}

			out, err := process(ctx, a.Capture, c.Flags.request(modality, input), c.Flags.Save)
			if err != nil {
				out = output{Error: err.Error()}
			}
			out.Line = line.number
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, out := range outputs {
		if out.Error != "" {
			failed++
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}

	rt.log.Info().Int("inputs", len(lines)).Int("failed", failed).Msg("Batch finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(lines))
	}
	return nil
}

type batchLine struct {
	number int
	text   string
}

// readLines returns the non-blank lines of r that are not # comments.
func readLines(r io.Reader) ([]batchLine, error) {
	var lines []batchLine
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		lines = append(lines, batchLine{number: n, text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read batch input: %w", err)
	}
	return lines, nil
}
