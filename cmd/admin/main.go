// Command admin creates a pre-confirmed account directly in the record
// store, bypassing the email confirmation flow. Intended for bootstrapping
// the first operator account.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/term"

	"github.com/dkarpov/authvault/internal/common"
	"github.com/dkarpov/authvault/internal/flagx"
	"github.com/dkarpov/authvault/internal/server/config"
	"github.com/dkarpov/authvault/internal/server/models"
	"github.com/dkarpov/authvault/internal/server/password"
	"github.com/dkarpov/authvault/internal/server/repositories/repomanager"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	cfg := config.LoadConfig()

	args := flagx.FilterArgs(os.Args[1:], []string{"-u", "-e", "-role"})

	var username, email, role string
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	fs.StringVar(&username, "u", "", "username for the new account")
	fs.StringVar(&email, "e", "", "email for the new account")
	fs.StringVar(&role, "role", "admin", "role for the new account")
	fs.Parse(args)

	reader := bufio.NewReader(os.Stdin)
	var err error
	if username == "" {
		if username, err = getSimpleText(reader, "Username", os.Stdout); err != nil {
			log.Fatalf("%v", err)
		}
	}
	if email == "" {
		if email, err = getSimpleText(reader, "Email", os.Stdout); err != nil {
			log.Fatalf("%v", err)
		}
	}

	secret, err := getPassword(os.Stdout)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer common.WipeByteArray(secret)

	ctx := context.Background()

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		log.Fatalf("migrations error: %v", err)
	}

	hasher := password.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash(string(secret))
	if err != nil {
		log.Fatalf("hashing error: %v", err)
	}

	user := &models.User{
		UserName:     username,
		Email:        email,
		PasswordHash: hash,
		Confirmed:    true,
		Role:         role,
	}

	created, err := repos.Users(db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			log.Fatalf("account already exists: %s", email)
		}
		log.Fatalf("create error: %v", err)
	}

	fmt.Printf("created %s account %s (%s)\n", created.Role, created.UserName, created.ID)
}

func getSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func getPassword(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}
