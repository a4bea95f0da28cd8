// Command interview runs a candidate's live interview in the terminal.
//
//	interview [-config file] [-api url] [-token token] <application-id>
//	interview export [-o file] [-from archive|api] <application-id|interview-id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/app"
	"github.com/jwulff/interview/internal/applications"
	"github.com/jwulff/interview/internal/archive"
	"github.com/jwulff/interview/internal/config"
	"github.com/jwulff/interview/internal/logging"
	"github.com/jwulff/interview/internal/session"
	"github.com/jwulff/interview/internal/transport"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "interview:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "export" {
		return runExport(args[1:])
	}
	return runInterview(args)
}

// common holds the flags shared by every subcommand.
type common struct {
	configFile string
	apiURL     string
	token      string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "config file (default: ./config/config.yaml or the user config dir)")
	fs.StringVar(&c.apiURL, "api", "", "interview backend URL, overrides api.url")
	fs.StringVar(&c.token, "token", "", "candidate access token, overrides auth.token")
}

// load reads the configuration and applies flag overrides.
func (c *common) load() (*config.Source, *config.Config, error) {
	src, err := config.Load(c.configFile)
	if err != nil {
		return nil, nil, err
	}
	cfg := *src.Config()
	if c.apiURL != "" {
		cfg.API.URL = c.apiURL
		cfg.API.WSURL = ""
	}
	if c.token != "" {
		cfg.Auth.Token = c.token
	}
	return src, &cfg, nil
}

func runInterview(args []string) error {
	fs := flag.NewFlagSet("interview", flag.ContinueOnError)
	var flags common
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected exactly one application id")
	}
	applicationID := fs.Arg(0)

	src, cfg, err := flags.load()
	if err != nil {
		return err
	}

	log, level, err := logging.Init(cfg.Logging.Options("interview"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	log = log.With(zap.String("application_id", applicationID))
	log.Info("Starting interview client", zap.String("version", version), zap.String("config", src.File()))

	src.Watch(log, func(c *config.Config) {
		if err := logging.SetLevel(level, c.Logging.Level); err != nil {
			log.Warn("Ignoring log level change", zap.Error(err))
		}
	})

	api, err := applications.New(applications.Options{
		BaseURL: cfg.API.URL,
		Token:   cfg.Auth.Token,
		Timeout: cfg.API.Timeout,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := api.Get(ctx, applicationID)
	cancel()
	switch {
	case errors.Is(err, applications.ErrApplicationNotFound):
		return fmt.Errorf("application %s does not exist", applicationID)
	case errors.Is(err, applications.ErrUnauthorized):
		return errors.New("the access token was refused; check auth.token")
	case err != nil:
		return fmt.Errorf("load application: %w", err)
	}
	if !application.Status.Interviewable() {
		return fmt.Errorf("application %s is %q; the interview is no longer available",
			applicationID, application.Status.Label())
	}

	client, err := transport.New(transport.Options{
		URL:           cfg.API.WebsocketURL(),
		ApplicationID: applicationID,
		Token:         cfg.Auth.Token,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	notifier := app.NewNotifier(log)
	observers := session.Observers{notifier}

	var recorder *archive.Recorder
	if cfg.Archive.Enabled {
		store, iv, err := startArchive(cfg.Archive.Path, application)
		if err != nil {
			// The interview goes ahead without a local copy.
			log.Warn("Transcript archive unavailable", zap.Error(err), zap.String("path", cfg.Archive.Path))
		} else {
			defer store.Close()
			recorder = archive.NewRecorder(store, iv.ID, log)
			observers = append(observers, recorder)
			log.Info("Archiving interview", zap.String("interview_id", iv.ID))
		}
	}

	sess := session.New(client, session.Options{
		ApplicationID:   applicationID,
		Logger:          log,
		Observer:        observers,
		MaxReplyLength:  cfg.Session.MaxReplyLength,
		ResponseTimeout: cfg.Session.ResponseTimeout,
		Reconnect:       cfg.Session.ReconnectPolicy(),
	})

	model := app.New(sess, notifier, app.Options{
		Application:    application,
		MaxReplyLength: cfg.Session.MaxReplyLength,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())

	sess.Start()
	_, runErr := p.Run()

	sess.Close()
	if recorder != nil {
		recorder.Close()
	}
	notifier.Close()

	snap := sess.Snapshot()
	log.Info("Interview client stopped", zap.String("status", string(snap.Status)), zap.Int("turns", len(snap.Turns)))
	if runErr != nil {
		return fmt.Errorf("terminal UI: %w", runErr)
	}
	printSummary(snap)
	return nil
}

func startArchive(path string, a *applications.Application) (*archive.Store, *archive.Interview, error) {
	store, err := archive.Open(path)
	if err != nil {
		return nil, nil, err
	}
	iv, err := store.StartInterview(a.ID, a.JobTitle, a.CompanyName, time.Now())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, iv, nil
}

// printSummary leaves a short record on the terminal once the alt screen
// is gone.
func printSummary(snap session.Snapshot) {
	if snap.Status != session.StatusCompleted {
		fmt.Println("Interview not finished. Run the same command again to resume.")
		return
	}
	fmt.Println("Interview complete.")
	if snap.FinalScore != nil {
		fmt.Printf("Final score: %.1f/100\n", *snap.FinalScore)
	}
	if snap.CompletionMessage != "" {
		fmt.Println(snap.CompletionMessage)
	}
	if snap.RedirectTo != "" {
		fmt.Println("Results:", snap.RedirectTo)
	}
}
