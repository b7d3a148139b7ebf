package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/palbooo/fcm-receiver-go/internal/logging"
	"github.com/palbooo/fcm-receiver-go/internal/metrics"
	"github.com/palbooo/fcm-receiver-go/internal/store"
	"github.com/palbooo/fcm-receiver-go/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Connect and print received messages",
		Long: `Register when no credentials are stored, connect to MCS and print every
decrypted message as a JSON line on stdout. Credentials and received message
ids are kept in the state directory so a restart does not deliver them again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd.Context())
		},
	}
}

func runListen(ctx context.Context) error {
	config := configFromContext(ctx)
	logger := logging.FromContext(ctx)

	st, err := openStore(config)
	if err != nil {
		return err
	}
	creds, err := st.LoadCredentials()
	if err != nil && !errors.Is(err, store.ErrNoCredentials) {
		return err
	}
	persistentIDs, err := st.LoadPersistentIDs()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if config.MetricsAddr != "" {
		go serveMetrics(ctx, config.MetricsAddr, registry)
	}

	cc := client.NewConfig(config.SenderID)
	cc.BundleID = config.BundleID
	if config.VapidKey != "" {
		cc.VapidKey = config.VapidKey
	}
	cc.Credentials = creds
	cc.PersistentIDs = persistentIDs
	cc.HeartbeatInterval = config.Heartbeat

	c := client.NewClient(cc,
		client.WithLogger(logger.Named("client")),
		client.WithRegisterService(registerService(ctx, config)),
		client.WithMetrics(metrics.New(metrics.WithRegistry(registry))),
	)
	defer c.Destroy()

	c.On(client.EventCredentialsChanged, func(ev client.Event) {
		changed := ev.Data.(*client.CredentialsChangedEvent)
		if err := st.SaveCredentials(changed.New); err != nil {
			logger.Errorw("Failed to save credentials", "error", err)
		}
	})
	c.On(client.EventReady, func(client.Event) {
		// the server acknowledged the stored ids with the login
		if err := st.SavePersistentIDs(c.PersistentIDs()); err != nil {
			logger.Errorw("Failed to save persistent ids", "error", err)
		}
	})
	c.On(client.EventMessageReceived, func(ev client.Event) {
		msg := ev.Data.(*client.MessageEvent)
		if err := st.AppendPersistentID(msg.PersistentID); err != nil {
			logger.Errorw("Failed to save persistent id", "error", err)
		}
		line, err := json.Marshal(map[string]interface{}{
			"persistentId": msg.PersistentID,
			"from":         msg.From,
			"message":      msg.Message,
		})
		if err != nil {
			logger.Errorw("Failed to encode message", "error", err)
			return
		}
		fmt.Fprintln(os.Stdout, string(line))
	})
	c.On(client.EventDisconnected, func(ev client.Event) {
		logger.Warnw("Disconnected", "cause", ev.Data.(*client.DisconnectedEvent).Cause)
	})
	c.On(client.EventError, func(ev client.Event) {
		logger.Errorw("Message could not be delivered", "error", ev.Data)
	})

	if err := c.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	logger.Infow("Listening", "senderId", config.SenderID, "stateDir", st.Path())

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) {
	logger := logging.FromContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Infow("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("Metrics server failed", "error", err)
	}
}

func registerCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a device and store its credentials",
		Long: `Run check-in, GCM registration and FCM subscription and write the
credentials to the state directory. Stored credentials are kept unless --force
is given, their device identity is reused either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd.Context(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Register again even when credentials are stored")

	return cmd
}

func runRegister(ctx context.Context, force bool) error {
	config := configFromContext(ctx)

	st, err := openStore(config)
	if err != nil {
		return err
	}
	previous, err := st.LoadCredentials()
	if err != nil && !errors.Is(err, store.ErrNoCredentials) {
		return err
	}
	if previous != nil && !force && previous.SenderID == config.SenderID {
		return printJSON(previous)
	}

	creds, err := registerService(ctx, config).Register(ctx, previous)
	if err != nil {
		return err
	}
	if err := st.SaveCredentials(creds); err != nil {
		return err
	}
	if err := st.SavePersistentIDs(nil); err != nil {
		return err
	}
	return printJSON(creds)
}

func checkinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin",
		Short: "Refresh the device check-in of the stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			config := configFromContext(ctx)

			st, err := openStore(config)
			if err != nil {
				return err
			}
			creds, err := st.LoadCredentials()
			if err != nil {
				return err
			}

			gcm, err := registerService(ctx, config).CheckIn(ctx, &creds.GCM)
			if err != nil {
				return err
			}
			if *gcm != creds.GCM {
				creds = creds.WithGCM(*gcm)
				if err := st.SaveCredentials(creds); err != nil {
					return err
				}
			}
			return printJSON(creds.GCM)
		},
	}
}

func unregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Delete the FCM subscription and GCM registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			config := configFromContext(ctx)

			st, err := openStore(config)
			if err != nil {
				return err
			}
			creds, err := st.LoadCredentials()
			if err != nil {
				return err
			}
			if err := registerService(ctx, config).Unregister(ctx, creds); err != nil {
				return err
			}
			logging.FromContext(ctx).Infow("Unregistered", "androidId", creds.GCM.AndroidID)
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
