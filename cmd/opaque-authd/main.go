// Command opaque-authd serves the credential authority. All bindings come
// from the environment:
//
//	REDIS_ADDR        redis host:port (default "127.0.0.1:6379")
//	SERVER_KEYPAIR    base64 private scalar from opaque-keygen (required)
//	EMAILER_KEY       Sendinblue API key (required)
//	CONFIRM_BASE_URL  external base URL for confirmation links (required)
//	SENDER_NAME       From name on confirmation mail
//	SENDER_MAIL       From address on confirmation mail
//	LISTEN_ADDR       bind address (default ":8787")
package main

import (
	"encoding/base64"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	opaqueauth "github.com/tomvardasca/opaque-authd"
	"github.com/tomvardasca/opaque-authd/httpapi"
	"github.com/tomvardasca/opaque-authd/mailer"
	"github.com/tomvardasca/opaque-authd/opaque"
)

func main() {
	keyRaw, err := base64.StdEncoding.DecodeString(mustEnv("SERVER_KEYPAIR"))
	if err != nil {
		log.Fatalf("SERVER_KEYPAIR is not valid base64: %v", err)
	}
	serverKey, err := opaque.KeyPairFromBytes(keyRaw)
	if err != nil {
		log.Fatalf("SERVER_KEYPAIR: %v", err)
	}

	sender, err := mailer.NewSendinblue(mailer.Config{
		APIKey:         mustEnv("EMAILER_KEY"),
		ConfirmBaseURL: mustEnv("CONFIRM_BASE_URL"),
		SenderName:     os.Getenv("SENDER_NAME"),
		SenderMail:     os.Getenv("SENDER_MAIL"),
	})
	if err != nil {
		log.Fatalf("mailer: %v", err)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	engine, err := opaqueauth.New().
		WithRedis(redis.NewClient(&redis.Options{Addr: redisAddr})).
		WithServerKey(serverKey).
		WithMailer(sender).
		WithAuditSink(opaqueauth.NewJSONWriterSink(os.Stderr)).
		Build()
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer engine.Close()

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8787"
	}

	server := httpapi.NewServer(engine)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("opaque-authd listening on %s", listenAddr)
	if err := server.Listen(listenAddr); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func mustEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("missing required environment binding %s", name)
	}
	return v
}
