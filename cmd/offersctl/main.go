// Command offersctl is an operator tool for a local offers database. Account
// and requested-service management live outside the server, so this tool
// seeds users and services and mints bearer tokens for them.
//
//	offersctl user    --name "Rita" --email rita@example.com [--roles USER,ADMIN]
//	offersctl service --owner 1 --title "Fix the roof" [--description "..."]
//	offersctl token   --user 1 [--ttl 24h]
//
// DB_PATH and JWT_SECRET are read the same way the server reads them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gorm.io/gorm"

	"github.com/tbourn/go-offers-backend/internal/auth"
	"github.com/tbourn/go-offers-backend/internal/config"
	"github.com/tbourn/go-offers-backend/internal/domain"
	"github.com/tbourn/go-offers-backend/internal/repo"
)

const usage = `usage: offersctl <user|service|token> [flags]`

func main() {
	_ = godotenv.Load()
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	switch args[0] {
	case "user":
		return createUser(ctx, db, args[1:], out)
	case "service":
		return createService(ctx, db, args[1:], out)
	case "token":
		return issueToken(ctx, db, auth.NewIssuer([]byte(cfg.Auth.JWTSecret), nil), args[1:], out)
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

func createUser(ctx context.Context, db *gorm.DB, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("user", pflag.ContinueOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "standard e-mail address for notifications")
	roles := fs.StringSlice("roles", []string{domain.RoleUser}, "comma-separated roles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}

	var contacts []domain.Contact
	if *email != "" {
		contacts = append(contacts, domain.Contact{Kind: domain.ContactEmail, Value: *email, Standard: true, Verified: true})
	}
	u, err := repo.CreateUser(ctx, db, *name, *roles, contacts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "user %d %s\n", u.ID, u.Roles)
	return nil
}

func createService(ctx context.Context, db *gorm.DB, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("service", pflag.ContinueOnError)
	owner := fs.Uint("owner", 0, "requester user id")
	title := fs.String("title", "", "service title")
	desc := fs.String("description", "", "service description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == 0 || strings.TrimSpace(*title) == "" {
		return errors.New("--owner and --title are required")
	}
	if _, err := repo.GetUser(ctx, db, *owner); err != nil {
		return fmt.Errorf("owner %d: %w", *owner, err)
	}
	s, err := repo.CreateRequestedService(ctx, db, *owner, *title, *desc)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "service %d %s\n", s.ID, s.Status)
	return nil
}

func issueToken(ctx context.Context, db *gorm.DB, iss *auth.Issuer, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	uid := fs.Uint("user", 0, "user id (subject)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := repo.GetUser(ctx, db, *uid)
	if err != nil {
		return fmt.Errorf("user %d: %w", *uid, err)
	}
	tok, err := iss.Issue(u.ID, u.RoleList(), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	return nil
}
