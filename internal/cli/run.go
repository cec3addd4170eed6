package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lazypower/courier/internal/bundle"
	"github.com/lazypower/courier/internal/journal"
	"github.com/lazypower/courier/internal/logging"
	"github.com/lazypower/courier/internal/node"
	"github.com/lazypower/courier/internal/radio"
	"github.com/lazypower/courier/internal/server"
)

var runEndpoints []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a relay node",
	Long: "Run the node control loop on the configured radio. The process exits non-zero " +
		"on an unrecoverable fault so a supervisor can restart it.",
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runEndpoints, "endpoint", "e", nil,
		"Local endpoint to deliver to, e.g. 1 for ipn://<node>.1 (repeatable)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	var db *journal.DB
	if cfg.Journal.Enabled {
		path := cfg.Journal.Path
		if path == "" {
			path, err = journal.DefaultPath()
			if err != nil {
				return fmt.Errorf("resolve journal path: %w", err)
			}
		}
		db, err = journal.Open(path, journal.WithMaxEvents(cfg.Journal.MaxEvents))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		log.WithField("path", path).Info("journal open")
	}

	udp, err := radio.ListenUDP(cfg.Radio.Bind, cfg.Radio.Peers, cfg.Radio.MTU, log.WithField("component", "radio"))
	if err != nil {
		return err
	}
	defer udp.Close()
	inbox := radio.NewQueue(cfg.Radio.QueueSize)
	radio.Attach(udp, inbox)

	opts := []node.Option{node.WithLogger(log)}
	if db != nil {
		opts = append(opts, node.WithJournal(db))
	}
	n, err := node.New(cfg, udp, inbox, opts...)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	for _, ep := range runEndpoints {
		n.Register(ep, func(b *bundle.Bundle) {
			log.WithFields(logrus.Fields{
				"endpoint": ep,
				"source":   b.Source,
				"payload":  string(b.Payload),
			}).Info("received")
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if cfg.Server.Enabled {
		var events server.Events
		if db != nil {
			events = db
		}
		httpServer = &http.Server{
			Addr:    cfg.ListenAddr(),
			Handler: server.New(n, events, VersionString()),
		}
		go func() {
			log.WithField("addr", httpServer.Addr).Info("api listening")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("api server failed")
			}
		}()
	}

	runErr := n.Run(ctx)

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}
	if runErr != nil {
		return fmt.Errorf("run node: %w", runErr)
	}
	return nil
}
