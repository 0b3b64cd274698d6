package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grantor.org/internal/audit"
	"grantor.org/internal/authcode"
	"grantor.org/internal/client"
	"grantor.org/internal/consent"
	"grantor.org/internal/flow"
	"grantor.org/internal/httpapi"
	"grantor.org/internal/obs"
	"grantor.org/internal/rbac"
	"grantor.org/internal/store/pg"
	"grantor.org/internal/token"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	identitySecret := os.Getenv("GRANTOR_IDENTITY_SECRET")
	if identitySecret == "" {
		log.Fatal("GRANTOR_IDENTITY_SECRET is required")
	}
	tokenSecret := os.Getenv("GRANTOR_TOKEN_SECRET")
	if tokenSecret == "" {
		log.Fatal("GRANTOR_TOKEN_SECRET is required")
	}
	addr := os.Getenv("GRANTOR_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var (
		clientStore  client.Store   = client.NewInMemory()
		rbacStore    rbac.Store     = rbac.NewInMemory()
		consentStore consent.Store  = consent.NewInMemory()
		codeStore    authcode.Store = authcode.NewInMemory()
		auditStore   audit.Store    = audit.NewInMemory()
		probe        httpapi.ReadyProbe
	)
	if dsn := os.Getenv("GRANTOR_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		clientStore = store.Clients()
		rbacStore = store.RBAC()
		consentStore = store.Consents()
		codeStore = store.Codes()
		auditStore = store.Audit()
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		log.Println("GRANTOR_PG_DSN not set; using in-memory stores")
	}

	ledger, err := audit.NewLedger(auditStore)
	if err != nil {
		log.Fatalf("audit ledger: %v", err)
	}
	clients, err := client.NewService(clientStore, ledger)
	if err != nil {
		log.Fatalf("client service: %v", err)
	}
	rbacSvc, err := rbac.NewService(rbacStore)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	consents, err := consent.NewService(consentStore, ledger)
	if err != nil {
		log.Fatalf("consent service: %v", err)
	}
	codes, err := authcode.NewService(codeStore, clients, rbacSvc, consents, ledger)
	if err != nil {
		log.Fatalf("authcode service: %v", err)
	}
	issuer, err := token.NewIssuer([]byte(tokenSecret), "grantor")
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}
	flowSvc, err := flow.NewService(codes, clients, issuer)
	if err != nil {
		log.Fatalf("flow service: %v", err)
	}
	verifier, err := httpapi.NewIdentityVerifier([]byte(identitySecret))
	if err != nil {
		log.Fatalf("identity verifier: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		ReadyProbe: probe,
		Version:    version,
		Clients:    clients,
		RBAC:       rbacSvc,
		Consents:   consents,
		Flow:       flowSvc,
		Ledger:     ledger,
		Identity:   verifier,
	})

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting grantor-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
