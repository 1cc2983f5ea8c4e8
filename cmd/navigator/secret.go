package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
	"github.com/vicpeacock/knowledge-navigator/internal/vault"
)

// runSecret manages vault-sealed secrets in the store. Tool config refers
// to them as "secret:NAME".
func runSecret(args []string) error {
	if len(args) == 0 {
		printSecretUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("vault passphrase is required (config vault.passphrase or NAVIGATOR_VAULT_PASSPHRASE)")
	}
	v := vault.New(cfg.Vault.Passphrase)

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	switch args[0] {
	case "list":
		return secretList(db)
	case "set":
		return secretSet(db, v, args[1:])
	case "get":
		return secretGet(db, v, args[1:])
	case "rm":
		return secretRemove(db, args[1:])
	default:
		printSecretUsage()
		return fmt.Errorf("unknown secret command: %s", args[0])
	}
}

func printSecretUsage() {
	fmt.Fprintf(os.Stderr, `Usage: navigator secret <command>

Commands:
  list                                    List stored secrets (metadata only)
  set <name> <value> [--description <text>]   Store a secret
  set <name> --file <path>                Store a secret from a file
  get <name>                              Decrypt and print a secret
  rm <name>                               Delete a secret

The vault passphrase comes from vault.passphrase in the config or the
NAVIGATOR_VAULT_PASSPHRASE environment variable.
`)
}

func secretList(db *store.Store) error {
	secrets, err := db.ListSecrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Println("No secrets stored.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
	for _, s := range secrets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func secretSet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: navigator secret set <name> <value> | <name> --file <path> [--description <text>]")
	}

	name := args[0]
	var value []byte
	rest := args[2:]

	if args[1] == "--file" {
		if len(args) < 3 {
			return fmt.Errorf("missing path after --file")
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		value = data
		rest = args[3:]
	} else {
		value = []byte(args[1])
	}

	description := ""
	for i := 0; i < len(rest)-1; i++ {
		if rest[i] == "--description" {
			description = rest[i+1]
			break
		}
	}

	ciphertext, nonce, err := v.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	sec := &store.Secret{
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	}
	if err := db.SaveSecret(sec); err != nil {
		return err
	}
	fmt.Printf("Secret %q saved\n", name)
	return nil
}

func secretGet(db *store.Store, v *vault.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: navigator secret get <name>")
	}

	sec, err := db.GetSecret(args[0])
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("secret %q not found", args[0])
	}

	plaintext, err := v.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	fmt.Print(string(plaintext))
	if len(plaintext) > 0 && plaintext[len(plaintext)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

func secretRemove(db *store.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: navigator secret rm <name>")
	}
	if err := db.DeleteSecret(args[0]); err != nil {
		return err
	}
	fmt.Printf("Secret %q deleted\n", args[0])
	return nil
}
