package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli"

	"github.com/danmuck/edgeipc/internal/config"
	"github.com/danmuck/edgeipc/internal/ipc"
	"github.com/danmuck/edgeipc/internal/logging"
	"github.com/danmuck/edgeipc/internal/protocol/structs"
)

func requireArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("%s: expected exactly one argument %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return c.Args().First(), nil
}

func inspectCommand(c *cli.Context) error {
	path, err := requireArg(c)
	if err != nil {
		return err
	}
	cat := structs.NewCatalogue(structs.Options{Path: path, Logger: logging.For("inspect")})
	if err := cat.Load(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	if ns := cat.Namespace(); ns != "" {
		fmt.Fprintf(w, "namespace\t%s\n", ns)
	}
	fmt.Fprintln(w, "STRUCT\tSIZE\tALIGN\tFIELDS\tSIGNATURE")
	var mismatched []string
	for _, name := range cat.Names() {
		s, err := cat.Lookup(name)
		if err != nil {
			return err
		}
		sig := s.Signature()
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", s.Name(), s.Size(), s.Align(), s.NumFields(), sig)
		if c.Bool("fields") {
			fields, err := s.Fields()
			if err != nil {
				return err
			}
			for _, f := range fields {
				typ := f.Type.String()
				if f.Struct != nil {
					typ = f.Struct.Name()
				}
				if f.ArrayLen > 0 {
					typ = fmt.Sprintf("%s[%d]", typ, f.ArrayLen)
				}
				fmt.Fprintf(w, "  %s\t@%d\t%s\t\t\n", f.Name, f.Offset, typ)
			}
		}
		if c.Bool("verify") {
			want, err := structs.ComputeSignature(s)
			if err != nil {
				return err
			}
			if want != sig {
				mismatched = append(mismatched, name)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(mismatched) > 0 {
		return fmt.Errorf("signature mismatch: %v", mismatched)
	}
	return nil
}

func validateConfigCommand(c *cli.Context) error {
	path, err := requireArg(c)
	if err != nil {
		return err
	}
	if _, err := config.Load(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "validated config at %s\n", path)
	return nil
}

func templateCommand(c *cli.Context) error {
	path, err := requireArg(c)
	if err != nil {
		return err
	}
	if err := config.WriteTemplate(path, c.Bool("force")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote config template to %s\n", path)
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		runtime := logging.DefaultConfig(logging.ProfileRuntime)
		runtime.Level = lvl
		logging.Apply(runtime)
	}
	log := logging.For("ipcctl")

	engine, err := ipc.New(ipc.Options{Config: cfg, Logger: logging.Logger()})
	if err != nil {
		return err
	}

	var relay net.Listener
	if cfg.RelayAddr != "" {
		relay, err = net.Listen("tcp", cfg.RelayAddr)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           engine.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Msg("admin endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	if relay != nil {
		go func() {
			if err := engine.ServeRelay(ctx, relay, "tcp", cfg.RelayTarget); err != nil {
				errs <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errs:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	log.Info().Msg("admin endpoint stopped")
	return err
}
