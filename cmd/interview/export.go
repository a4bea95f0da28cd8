package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/jwulff/interview/internal/applications"
	"github.com/jwulff/interview/internal/archive"
	"github.com/jwulff/interview/internal/export"
)

// runExport writes a transcript workbook either from the local archive
// (by interview id, or the latest interview when none is given) or from
// the backend (by application id).
func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var flags common
	flags.register(fs)
	out := fs.String("o", "transcript.xlsx", "output workbook")
	from := fs.String("from", "archive", "transcript source: archive or api")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, cfg, err := flags.load()
	if err != nil {
		return err
	}

	var tr export.Transcript
	switch *from {
	case "archive":
		tr, err = fromArchive(cfg.Archive.Path, fs.Arg(0))
	case "api":
		if fs.NArg() != 1 {
			return errors.New("export -from api needs an application id")
		}
		tr, err = fromAPI(cfg.API.URL, cfg.Auth.Token, cfg.API.Timeout, fs.Arg(0))
	default:
		return fmt.Errorf("unknown source %q", *from)
	}
	if err != nil {
		return err
	}

	path, err := export.SaveAs(*out, tr)
	if err != nil {
		return err
	}
	fmt.Println("Wrote", path)
	return nil
}

func fromArchive(path, interviewID string) (export.Transcript, error) {
	store, err := archive.OpenReadOnly(path)
	if err != nil {
		return export.Transcript{}, err
	}
	defer store.Close()

	var iv *archive.Interview
	if interviewID == "" {
		iv, err = store.LatestInterview()
	} else {
		iv, err = store.GetInterview(interviewID)
	}
	if err != nil {
		return export.Transcript{}, err
	}
	if iv == nil {
		return export.Transcript{}, errors.New("no matching interview in the archive")
	}

	turns, err := store.TurnsForInterview(iv.ID)
	if err != nil {
		return export.Transcript{}, err
	}
	return export.FromArchive(iv, turns), nil
}

func fromAPI(baseURL, token string, timeout time.Duration, applicationID string) (export.Transcript, error) {
	client, err := applications.New(applications.Options{BaseURL: baseURL, Token: token, Timeout: timeout})
	if err != nil {
		return export.Transcript{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := client.Get(ctx, applicationID)
	if err != nil {
		return export.Transcript{}, fmt.Errorf("load application: %w", err)
	}
	tr, err := client.Transcript(ctx, applicationID)
	if err != nil {
		return export.Transcript{}, fmt.Errorf("load transcript: %w", err)
	}
	return export.FromAPI(a, tr), nil
}
