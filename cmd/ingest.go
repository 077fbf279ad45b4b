package cmd

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/AnastRaja/chatbot-sub000/database"
	"github.com/AnastRaja/chatbot-sub000/knowledge"
	"github.com/AnastRaja/chatbot-sub000/projects"
	"github.com/AnastRaja/chatbot-sub000/storage"
)

var ingestProject string

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Add documents to a project's knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestProject, "project", "p", "", "slug of the project that owns the documents")
	_ = ingestCmd.MarkFlagRequired("project")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	project, err := projects.NewStore(db, cfg.Chat.MaxQuickQuestions).FindBySlug(ctx, ingestProject)
	if err != nil {
		return fmt.Errorf("find project %q: %w", ingestProject, err)
	}

	embedder, err := knowledge.NewHTTPEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	originals, err := storage.NewDocumentStorage(ctx, cfg.MinIO)
	if err != nil {
		return err
	}
	service, err := knowledge.NewService(db, embedder, originals, cfg.Knowledge)
	if err != nil {
		return err
	}

	var failed []error
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		upload := knowledge.Upload{
			FileName:    filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Data:        data,
		}
		doc, err := service.Ingest(ctx, project.ID, upload)
		if err != nil {
			log.Error("ingest failed", "file", path, "err", err)
			failed = append(failed, fmt.Errorf("%s: %w", path, err))
			continue
		}
		log.Info("ingested", "file", path, "document", doc.ID, "chunks", doc.ChunkCount)
	}
	return errors.Join(failed...)
}
