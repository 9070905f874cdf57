package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/avvvet/tcg-companion/internal/cards"
	"github.com/avvvet/tcg-companion/internal/models"
	"github.com/avvvet/tcg-companion/internal/view"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

var ErrNotConfirmed = errors.New("refusing to delete without --yes")

// Runner holds the dependencies of the CLI commands.
type Runner struct {
	httpClient *http.Client
	output     io.Writer
}

func NewRunner(httpClient *http.Client, output io.Writer) *Runner {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if output == nil {
		output = os.Stdout
	}
	return &Runner{httpClient: httpClient, output: output}
}

// client authenticates backend calls with the --token bearer. Storage writes
// go out through the bare client, signed upload urls carry their own auth.
func (r *Runner) client(ctx context.Context, cmd *cli.Command) *cards.Client {
	api := r.httpClient
	if token := cmd.String("token"); token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
		api = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	}
	return cards.NewClient(cmd.String("backend"), api, r.httpClient)
}

func (r *Runner) Upload(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return errors.New("no files given")
	}
	uploader := cards.NewUploader(r.client(ctx, cmd), nil)

	var failed int
	var created []*models.Card
	for _, p := range paths {
		card, err := r.uploadFile(ctx, uploader, p)
		if err != nil {
			log.WithField("file", p).Errorf("upload failed: %s", err)
			failed++
			continue
		}
		created = append(created, card)
		if !cmd.Bool("json") {
			if card == nil {
				fmt.Fprintf(r.output, "%s\taccepted\n", p)
			} else {
				fmt.Fprintf(r.output, "%s\t%s\n", p, card.ID)
			}
		}
	}

	if cmd.Bool("json") {
		if err := r.writeJSON(created); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(paths))
	}
	return nil
}

func (r *Runner) uploadFile(ctx context.Context, uploader *cards.Uploader, path string) (*models.Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		contentType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	return uploader.Upload(ctx, cards.File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Body:        f,
	}, "")
}

func (r *Runner) List(ctx context.Context, cmd *cli.Command) error {
	list, err := r.client(ctx, cmd).ListCards(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(list)
	}

	w := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tREF CARD\tIMAGE")
	for _, c := range list {
		ref := "-"
		if c.RefCardID != nil {
			ref = *c.RefCardID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, renderState(c), ref, c.ImagePath)
	}
	return w.Flush()
}

func (r *Runner) Get(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return errors.New("card id is required")
	}
	card, err := r.client(ctx, cmd).GetCard(ctx, id)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(card)
	}

	w := tabwriter.NewWriter(r.output, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", card.ID)
	fmt.Fprintf(w, "state\t%s\n", renderState(*card))
	if card.RefCardID != nil {
		fmt.Fprintf(w, "ref card\t%s\n", *card.RefCardID)
	}
	fmt.Fprintf(w, "image\t%s\n", card.ImagePath)
	return w.Flush()
}

func (r *Runner) Delete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return errors.New("card id is required")
	}
	if !cmd.Bool("yes") {
		return fmt.Errorf("%w: card %s", ErrNotConfirmed, id)
	}
	if err := r.client(ctx, cmd).DeleteCard(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(r.output, "deleted %s\n", id)
	return nil
}

// renderState works from the card alone: a linked catalog entry counts as
// resolved even though the CLI never fetches it.
func renderState(c models.Card) view.RenderState {
	v := models.CardView{Card: c}
	if c.RefCardID != nil {
		v.RefCard = &models.RefCard{ID: *c.RefCardID}
	}
	return view.Render(v)
}

func (r *Runner) writeJSON(data any) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
