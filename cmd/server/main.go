package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/ledgerflow/stmtextract/internal/extraction"
)

func main() {
	log.Println("🚀 stmtextract starting...")

	cfg := extraction.LoadConfig()
	ctx := context.Background()

	cacheStore, cleanup := buildCacheStore(ctx, cfg)
	if cleanup != nil {
		defer cleanup()
	}
	cache := extraction.NewParseCache(cacheStore, cfg.CacheEnabled, cfg.CacheTTLDays)

	llm := extraction.NewLlmClient(cfg.GeminiAPIKey, cfg.LLMModel)
	ocr := extraction.NewOcrClient()
	rules := extraction.NewRuleEngine()

	pipeline := extraction.NewPipeline(cache, llm, ocr, rules, extraction.PipelineConfig{
		LLMModel:         cfg.LLMModel,
		LLMPriceInputM:   cfg.LLMPriceInputM,
		LLMPriceOutputM:  cfg.LLMPriceOutputM,
		FxUSDToKRW:       cfg.FxUSDToKRW,
		BatchConcurrency: cfg.BatchConcurrency,
		ChunkTargetChars: cfg.ChunkTargetChars,
	})

	var objectStore *extraction.ObjectStore
	if cfg.ObjectStoreBucket != "" {
		gcsClient, err := gcsstorage.NewClient(ctx)
		if err != nil {
			log.Fatalf("Failed to create GCS client: %v", err)
		}
		objectStore = extraction.NewObjectStore(gcsClient.Bucket(cfg.ObjectStoreBucket))
		log.Printf("✅ Object store upload path enabled (bucket: %s)", cfg.ObjectStoreBucket)
	} else {
		log.Println("⚠️  OBJECT_STORE_BUCKET not set, upload-url endpoint disabled")
	}

	startJanitor(cache, cfg.JanitorCron)

	mux := http.NewServeMux()
	registerHandlers(mux, pipeline, objectStore, cfg.PDFMaxPages)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:1234",
			"http://127.0.0.1:1234",
			"https://*.ledgerflow.dev",
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Api-Key",
		},
		AllowCredentials: true,
	})

	handler := c.Handler(mux)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}

	log.Printf("Starting server on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildCacheStore selects a ParseCache backend per CACHE_BACKEND, returning
// an optional cleanup func for backends that own a connection.
func buildCacheStore(ctx context.Context, cfg extraction.Config) (extraction.CacheStore, func()) {
	switch cfg.CacheBackend {
	case "postgres":
		databaseURL := os.Getenv("DATABASE_URL")
		store, err := extraction.NewCacheStorePostgres(ctx, databaseURL)
		if err != nil {
			log.Fatalf("Failed to connect parse cache to Postgres: %v", err)
		}
		log.Println("✅ Parse cache backed by Postgres")
		return store, store.Close

	case "firestore":
		projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
		client, err := firestore.NewClient(ctx, projectID)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		log.Println("✅ Parse cache backed by Firestore")
		return extraction.NewCacheStoreFirestore(client), func() { _ = client.Close() }

	default:
		log.Println("✅ Parse cache backed by local file store")
		return extraction.NewCacheStoreFile(""), nil
	}
}

// startJanitor schedules the cache-expiry sweep on the configured cron
// expression, logging outcomes the way the corpus logs background jobs.
func startJanitor(cache *extraction.ParseCache, cronExpr string) {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(log.New(os.Stdout, "[JANITOR] ", log.LstdFlags))))
	_, err := c.AddFunc(cronExpr, func() {
		count, err := cache.ReapExpired(context.Background())
		if err != nil {
			log.Printf("❌ Cache janitor sweep failed: %v", err)
			return
		}
		log.Printf("🧹 Cache janitor reaped %d expired entries", count)
	})
	if err != nil {
		log.Fatalf("Failed to schedule cache janitor: %v", err)
	}
	c.Start()
}

func registerHandlers(mux *http.ServeMux, pipeline *extraction.Pipeline, objectStore *extraction.ObjectStore, maxPages int) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/extract", func(w http.ResponseWriter, r *http.Request) {
		handleExtract(w, r, pipeline, objectStore, maxPages)
	})

	if objectStore != nil {
		mux.HandleFunc("/upload-url", func(w http.ResponseWriter, r *http.Request) {
			handleUploadURL(w, r, objectStore)
		})
	}
}

type uploadURLRequest struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	StoragePath string `json:"storagePath"`
}

// handleUploadURL implements the §6.2 collaborator: issue a signed PUT URL
// keyed by a fresh upload token.
func handleUploadURL(w http.ResponseWriter, r *http.Request, objectStore *extraction.ObjectStore) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FileName == "" {
		http.Error(w, "fileName is required", http.StatusBadRequest)
		return
	}

	key := uuid.NewString() + "/" + req.FileName
	url, err := objectStore.SignedUploadURL(key, "application/octet-stream")
	if err != nil {
		log.Printf("❌ Failed to sign upload URL: %v", err)
		http.Error(w, "failed to sign upload url", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, uploadURLResponse{UploadURL: url, StoragePath: key})
}

type extractRequest struct {
	StoragePath  string   `json:"storagePath"`
	FileName     string   `json:"fileName"`
	ForceRefresh bool     `json:"forceRefresh"`
	LanguageHints []string `json:"languageHints"`
}

// handleExtract implements the §6.1 entry point. The body may carry raw
// bytes (multipart form field "file") or a storagePath from a prior
// upload-url round trip; the latter is downloaded and unconditionally
// deleted afterward (§6.2), success or failure.
func handleExtract(w http.ResponseWriter, r *http.Request, pipeline *extraction.Pipeline, objectStore *extraction.ObjectStore, maxPages int) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		data     []byte
		filename string
		opts     = extraction.DefaultOptions()
	)
	if maxPages > 0 {
		opts.MaxPages = maxPages
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "application/json" {
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.StoragePath == "" || objectStore == nil {
			http.Error(w, "storagePath is required and object store must be configured", http.StatusBadRequest)
			return
		}
		filename = req.FileName
		opts.ForceRefresh = req.ForceRefresh
		opts.LanguageHints = req.LanguageHints

		downloaded, err := objectStore.Download(r.Context(), req.StoragePath)
		defer func() {
			if delErr := objectStore.Delete(context.Background(), req.StoragePath); delErr != nil {
				log.Printf("⚠️  Failed to clean up uploaded object %s: %v", req.StoragePath, delErr)
			}
		}()
		if err != nil {
			http.Error(w, "failed to download uploaded object", http.StatusBadGateway)
			return
		}
		data = downloaded
	} else {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file field is required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		filename = header.Filename
		buf, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "failed to read uploaded file", http.StatusBadRequest)
			return
		}
		data = buf
		opts.ForceRefresh, _ = strconv.ParseBool(r.FormValue("forceRefresh"))
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := pipeline.Extract(ctx, data, filename, opts)
	if err != nil {
		writeExtractionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeExtractionError(w http.ResponseWriter, err error) {
	var extractionErr *extraction.Error
	if errors.As(err, &extractionErr) {
		status := http.StatusInternalServerError
		switch extractionErr.Code {
		case extraction.ErrInputRejected:
			status = http.StatusBadRequest
		case extraction.ErrUpstreamQuota:
			status = http.StatusTooManyRequests
		case extraction.ErrTransportFailure, extraction.ErrCacheUnavailable:
			status = http.StatusBadGateway
		case extraction.ErrCancelled:
			status = http.StatusRequestTimeout
		}
		writeJSON(w, status, map[string]any{
			"code":    extractionErr.Code,
			"message": extractionErr.Message,
		})
		return
	}
	log.Printf("❌ Unclassified extraction failure: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
