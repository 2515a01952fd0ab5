package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library_service/pkg/accounts"
	"library_service/pkg/api"
	"library_service/pkg/models"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			if a.cfg.UsesDevSecret() {
				a.log.Warn("JWT_SECRET is not set; using the built-in development key")
			}
			return serve(ctx, a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, a *app, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(a.deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("library service starting", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			a.log.Info("database migrated")
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Mark BORROWED loans past their due date as OVERDUE",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return runSweep(cmd.Context(), a, asOf, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "cutoff date YYYY-MM-DD (default today)")
	return cmd
}

func runSweep(ctx context.Context, a *app, asOf string, out io.Writer) error {
	cutoff := a.deps.Lending.Today()
	if asOf != "" {
		parsed, err := time.Parse("2006-01-02", asOf)
		if err != nil {
			return fmt.Errorf("--as-of: expected YYYY-MM-DD, got %q", asOf)
		}
		cutoff = parsed
	}
	marked, err := a.deps.Lending.SweepOverdue(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d loan(s) marked overdue as of %s\n", marked, cutoff.Format("2006-01-02"))
	return nil
}

type staffOptions struct {
	email         string
	name          string
	phone         string
	role          string
	hireDate      string
	passwordStdin bool
}

func newCreateStaffCmd() *cobra.Command {
	var opts staffOptions
	cmd := &cobra.Command{
		Use:   "create-staff",
		Short: "Create a STAFF or ADMIN account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var password string
			var err error
			if opts.passwordStdin {
				password, err = readPasswordLine(cmd.InOrStdin())
			} else {
				password, err = promptPassword(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return runCreateStaff(cmd.Context(), a, opts, password, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.email, "email", "", "login email")
	cmd.Flags().StringVar(&opts.name, "name", "", "full name, \"First Last\"")
	cmd.Flags().StringVar(&opts.phone, "phone", "", "contact phone")
	cmd.Flags().StringVar(&opts.role, "role", string(models.RoleStaff), "STAFF or ADMIN")
	cmd.Flags().StringVar(&opts.hireDate, "hire-date", "", "YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func runCreateStaff(ctx context.Context, a *app, opts staffOptions, password string, out io.Writer) error {
	first, last, _ := strings.Cut(strings.TrimSpace(opts.name), " ")
	in := accounts.CreateStaffInput{
		FirstName: first,
		LastName:  strings.TrimSpace(last),
		Email:     opts.email,
		Phone:     opts.phone,
		Password:  password,
		Role:      models.Role(strings.ToUpper(opts.role)),
	}
	if opts.hireDate != "" {
		hired, err := time.Parse("2006-01-02", opts.hireDate)
		if err != nil {
			return fmt.Errorf("--hire-date: expected YYYY-MM-DD, got %q", opts.hireDate)
		}
		in.HireDate = hired
	}

	staff, err := a.deps.Accounts.CreateStaff(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created %s account %d for %s\n", staff.Role, staff.ID, staff.Email)
	return nil
}

// promptPassword reads the password twice from the terminal without echo.
func promptPassword(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal; use --password-stdin")
	}
	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	fmt.Fprint(prompt, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo books and copies (safe to re-run)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			return seedCatalog(cmd.Context(), a)
		},
	}
}
