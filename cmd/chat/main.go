package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vanshansh-prajav/Hack36/internal/config"
	"github.com/vanshansh-prajav/Hack36/internal/database"
	"github.com/vanshansh-prajav/Hack36/internal/graph"
	"github.com/vanshansh-prajav/Hack36/internal/services"
	"github.com/vanshansh-prajav/Hack36/internal/wallet"
	"github.com/vanshansh-prajav/Hack36/pkg/utils"
)

func main() {
	direct := flag.Bool("direct", false, "talk to the GRAPH_BACKEND store directly instead of a relay")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, *direct)
	if err != nil {
		log.Fatal("Failed to open graph store:", err)
	}
	defer closeStore()

	sessions, err := openSessions(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open session store:", err)
	}

	var signer wallet.Signer
	if ks, err := loadSigner(cfg); err != nil {
		log.Printf("⚠️  No wallet available: %v", err)
		log.Println("   Set WALLET_PRIVATE_KEY or WALLET_KEY_FILE to log in")
	} else {
		signer = ks
	}

	client, err := services.NewClient(services.ClientOptions{
		Store:    store,
		Signer:   signer,
		Sessions: sessions,
		Images:   imageEncoder(cfg),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	r := newREPL(client, os.Stdout, cfg.MaxImageBytes)
	if ok, err := client.Restore(ctx); err != nil {
		r.printf("could not restore session: %v", err)
	} else if ok {
		ident, _ := client.Identity()
		r.printf("resumed session as %s (%s)", ident.Username, ident.Address)
	}
	r.printf("type help for commands")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || r.exec(ctx, line) {
				return
			}
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, direct bool) (graph.Store, func(), error) {
	if direct {
		startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return database.OpenGraphStore(startCtx, cfg)
	}
	store, err := graph.NewRemoteStore(cfg.RelayURL)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Using relay %s", cfg.RelayURL)
	return store, func() { store.Close() }, nil
}

func openSessions(ctx context.Context, cfg *config.Config) (services.SessionStore, error) {
	switch cfg.SessionBackend {
	case config.SessionRedis:
		if err := database.ConnectRedis(ctx, cfg.RedisURI); err != nil {
			return nil, err
		}
		return services.NewRedisSessionStore(database.RedisClient, cfg.SessionID)
	case config.SessionFile, "":
		var sealer *utils.Sealer
		if cfg.EncryptionKey != "" {
			s, err := utils.NewSealer(cfg.EncryptionKey)
			if err != nil {
				log.Printf("⚠️  WARNING: ENCRYPTION_KEY is invalid, session snapshot stored in clear: %v", err)
			} else {
				sealer = s
			}
		}
		return services.NewFileSessionStore(cfg.SessionDir, cfg.SessionID, sealer)
	}
	return nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
}

// loadSigner uses WALLET_PRIVATE_KEY, then WALLET_KEY_FILE. A key file that
// does not exist yet is created with a fresh account.
func loadSigner(cfg *config.Config) (*wallet.KeystoreSigner, error) {
	if cfg.WalletKey != "" {
		return wallet.NewKeystoreSigner(cfg.WalletKey)
	}
	if cfg.WalletKeyFile == "" {
		return nil, errors.New("no wallet key configured")
	}
	signer, err := wallet.LoadKeystoreSigner(cfg.WalletKeyFile)
	if !errors.Is(err, os.ErrNotExist) {
		return signer, err
	}

	fresh, err := wallet.GenerateKeystoreSigner()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(cfg.WalletKeyFile, []byte(fresh.PrivateKeyHex()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write wallet key file: %w", err)
	}
	log.Printf("✅ Created wallet %s in %s", fresh.Address(), cfg.WalletKeyFile)
	return fresh, nil
}

func imageEncoder(cfg *config.Config) services.ImageEncoder {
	if cfg.CloudinaryConfigured() {
		u, err := services.NewCloudinaryUploader(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		if err == nil {
			u.MaxBytes = cfg.MaxImageBytes
			return u
		}
		log.Printf("Warning: Failed to initialize Cloudinary, images will be inlined: %v", err)
	}
	return services.InlineEncoder{MaxBytes: cfg.MaxImageBytes}
}
