// Package main demonstrates how to use the imagesieve moderation pipeline.
//
// This example shows:
// 1. Initializing the SQL store and the analyzer set
// 2. Loading runtime settings with hot reload
// 3. Handling decisions via hooks
// 4. Evaluating single images and batches
package main

import (
	"context"
	"database/sql"
	"log"

	"go.uber.org/zap"

	sieve "github.com/modstack/imagesieve"
	"github.com/modstack/imagesieve/analyzers"
	"github.com/modstack/imagesieve/analyzers/aliyun"
	"github.com/modstack/imagesieve/analyzers/remote"
	"github.com/modstack/imagesieve/analyzers/tencent"
	"github.com/modstack/imagesieve/config"
	"github.com/modstack/imagesieve/hooks"
	"github.com/modstack/imagesieve/pipeline"
	sqlstore "github.com/modstack/imagesieve/store/sql"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// ============================================================
	// Step 1: Initialize Database Store
	// ============================================================
	db, err := sql.Open("mysql", "user:password@tcp(localhost:3306)/imagesieve?parseTime=true")
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	store := sqlstore.NewWithDB(db, sqlstore.DialectMySQL)

	// ============================================================
	// Step 2: Initialize Analyzers
	// ============================================================
	nudityCfg := aliyun.DefaultConfig()
	nudityCfg.AccessKeyID = "your-aliyun-access-key"
	nudityCfg.AccessKeySecret = "your-aliyun-secret"

	nudityAnalyzer, err := aliyun.New(nudityCfg)
	if err != nil {
		log.Fatalf("Failed to create aliyun analyzer: %v", err)
	}

	textCfg := tencent.DefaultConfig()
	textCfg.AccessKeyID = "your-tencent-secret-id"
	textCfg.AccessKeySecret = "your-tencent-secret-key"

	textScanner, err := tencent.New(textCfg)
	if err != nil {
		log.Fatalf("Failed to create tencent analyzer: %v", err)
	}

	// Pose, face and description run on a self-hosted model server.
	modelCfg := remote.DefaultConfig()
	modelCfg.Endpoint = "http://model-server:8501"
	modelCfg.AppID = "gallery"
	modelClient := remote.New(modelCfg)

	// ============================================================
	// Step 3: Load Runtime Settings (hot-reloaded on change)
	// ============================================================
	cfg, err := config.Load("imagesieve.yaml", logger)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Watch()

	// ============================================================
	// Step 4: Implement Business Hooks
	// ============================================================
	myHooks := hooks.FuncHooks{
		OnEvaluatedFunc: func(ctx context.Context, e hooks.EvaluatedEvent) error {
			log.Printf("[Hook] %s evaluated: %s (risk %.1f, %s)",
				e.ImageRef, e.Decision.Status, e.Risk.FinalRiskScore, e.Risk.RiskLevel)
			return nil
		},
		OnHumanReviewRequiredFunc: func(ctx context.Context, e hooks.HumanReviewRequiredEvent) error {
			log.Printf("[Hook] Sending %s to the review queue", e.EvaluationID)
			return nil
		},
		OnUnderageSuspectedFunc: func(ctx context.Context, e hooks.UnderageSuspectedEvent) error {
			log.Printf("[Hook] ALERT: underage suspect in %s (min age %d)",
				e.EvaluationID, e.MinDetectedAge)
			return nil
		},
	}

	// ============================================================
	// Step 5: Create the Pipeline
	// ============================================================
	p, err := pipeline.New(pipeline.Options{
		Analyzers: analyzers.Set{
			Nudity:      nudityAnalyzer,
			Pose:        modelClient,
			Face:        modelClient,
			Description: modelClient,
			Keywords:    textScanner,
		},
		Config:          cfg,
		Hooks:           myHooks,
		Store:           store,
		Logger:          logger,
		MetricsRegistry: prometheus.DefaultRegisterer,
		EnableDedup:     true,
	})
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}
	defer p.Close()

	// ============================================================
	// Step 6: Evaluate a Single Image
	// ============================================================
	eval, err := p.Evaluate(ctx, pipeline.Request{
		ImageRef: "https://cdn.example.com/uploads/photo-123.jpg",
		Context:  sieve.ContextProfilePic,
	})
	if err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}

	log.Printf("Decision: %s (action=%s, confidence=%.0f, review=%v)",
		eval.Decision.Status, eval.Decision.Action,
		eval.Decision.Confidence, eval.Decision.HumanReviewRequired)

	// ============================================================
	// Step 7: Evaluate a Batch
	// ============================================================
	results := p.EvaluateBatch(ctx, []pipeline.Request{
		{ImageRef: "https://cdn.example.com/uploads/a.jpg", Context: sieve.ContextPublicGallery},
		{ImageRef: "https://cdn.example.com/uploads/b.jpg", Context: sieve.ContextPublicGallery},
		{ImageRef: "https://cdn.example.com/uploads/c.jpg", Context: sieve.ContextPublicGallery},
	})

	for _, r := range results {
		if r.Err != nil {
			log.Printf("  [%d] error: %v", r.Index, r.Err)
			continue
		}
		log.Printf("  [%d] %s -> %s", r.Index, r.Request.ImageRef, r.Evaluation.Decision.Status)
	}
	if pipeline.Approved(results) {
		log.Println("All batch images approved")
	}
}
