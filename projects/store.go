package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("projects: project not found")
	ErrInvalid  = errors.New("projects: invalid project")
)

// Tables holding rows keyed by project_id, deleted with the project, children first.
var cascadeTables = []string{
	"knowledge_chunks",
	"knowledge_documents",
	"chat_messages",
	"chat_sessions",
	"leads",
}

var (
	colorPattern   = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	slugStripper   = regexp.MustCompile(`[^a-z0-9]+`)
	validTones     = map[string]struct{}{ToneFriendly: {}, ToneProfessional: {}, ToneCasual: {}, ToneFormal: {}}
	defaultColor   = "#2563eb"
	maxNameRunes   = 120
	defaultMaxQQ   = 5
	maxSlugBaseLen = 40
)

// DeleteHook is called before a project's rows are removed, while they can still be read.
// The returned cleanup, if any, runs only once the rows are committed as deleted.
type DeleteHook func(ctx context.Context, projectID uint64) (cleanup func(context.Context) error, err error)

// ModelPolicy decides which chat models a project may select.
type ModelPolicy interface {
	Allows(name string) bool
}

// Store persists projects and removes their dependent rows explicitly on delete.
type Store struct {
	db                *gorm.DB
	maxQuickQuestions int
	hooks             []DeleteHook
	models            ModelPolicy
}

func NewStore(db *gorm.DB, maxQuickQuestions int) *Store {
	if maxQuickQuestions <= 0 {
		maxQuickQuestions = defaultMaxQQ
	}
	return &Store{db: db, maxQuickQuestions: maxQuickQuestions}
}

// OnDelete registers a hook consulted by Delete.
func (s *Store) OnDelete(hook DeleteHook) {
	if s == nil || hook == nil {
		return
	}
	s.hooks = append(s.hooks, hook)
}

// RestrictModels rejects settings naming a model the policy does not allow.
func (s *Store) RestrictModels(policy ModelPolicy) {
	s.models = policy
}

// Input carries create/update fields; nil means unchanged.
type Input struct {
	Name           *string          `json:"name"`
	Context        json.RawMessage  `json:"context"`
	Color          *string          `json:"color"`
	Settings       *Settings        `json:"settings"`
	QuickQuestions *[]QuickQuestion `json:"quick_questions"`
}

func (s *Store) FindBySlug(ctx context.Context, slug string) (*Project, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrNotFound
	}
	var project Project
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&project).Error; err != nil {
		return nil, translate(err)
	}
	return &project, nil
}

func (s *Store) FindByID(ctx context.Context, id uint64) (*Project, error) {
	var project Project
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&project).Error; err != nil {
		return nil, translate(err)
	}
	return &project, nil
}

// FindOwned loads a project only if ownerID owns it; foreign projects look missing.
func (s *Store) FindOwned(ctx context.Context, ownerID uint64, slug string) (*Project, error) {
	project, err := s.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return project, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID uint64) ([]Project, error) {
	var list []Project
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("projects: list by owner: %w", err)
	}
	return list, nil
}

// IDsByOwner returns the ids of every project ownerID owns.
func (s *Store) IDsByOwner(ctx context.Context, ownerID uint64) ([]uint64, error) {
	var ids []uint64
	if err := s.db.WithContext(ctx).Model(&Project{}).Where("owner_id = ?", ownerID).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("projects: list ids: %w", err)
	}
	return ids, nil
}

func (s *Store) Create(ctx context.Context, ownerID uint64, input Input) (*Project, error) {
	if ownerID == 0 {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalid)
	}
	if input.Name == nil || strings.TrimSpace(*input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	project := &Project{
		OwnerID:  ownerID,
		Color:    defaultColor,
		Context:  datatypes.JSON("{}"),
		Settings: datatypes.NewJSONType(Settings{Tone: ToneFriendly, LeadGenEnabled: true}),
	}
	if err := s.apply(project, input); err != nil {
		return nil, err
	}
	project.Slug = newSlug(project.Name)

	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, fmt.Errorf("projects: create: %w", err)
	}
	return project, nil
}

func (s *Store) Update(ctx context.Context, project *Project, input Input) error {
	if project == nil {
		return ErrNotFound
	}
	if err := s.apply(project, input); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(project).Error; err != nil {
		return fmt.Errorf("projects: update: %w", err)
	}
	return nil
}

// Delete removes the project and every dependent row in one transaction.
// Hook cleanups run after the commit; a failed delete leaves external data alone.
func (s *Store) Delete(ctx context.Context, projectID uint64) error {
	if _, err := s.FindByID(ctx, projectID); err != nil {
		return err
	}

	cleanups := make([]func(context.Context) error, 0, len(s.hooks))
	for _, hook := range s.hooks {
		cleanup, err := hook(ctx, projectID)
		if err != nil {
			return fmt.Errorf("projects: prepare delete: %w", err)
		}
		if cleanup != nil {
			cleanups = append(cleanups, cleanup)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range cascadeTables {
			if err := tx.Exec("DELETE FROM "+table+" WHERE project_id = ?", projectID).Error; err != nil {
				return fmt.Errorf("projects: cascade %s: %w", table, err)
			}
		}
		result := tx.Where("id = ?", projectID).Delete(&Project{})
		if result.Error != nil {
			return fmt.Errorf("projects: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, cleanup := range cleanups {
		if err := cleanup(ctx); err != nil {
			log.Warn("projects: delete cleanup failed", "project", projectID, "err", err)
		}
	}
	return nil
}

func (s *Store) apply(project *Project, input Input) error {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return fmt.Errorf("%w: name cannot be empty", ErrInvalid)
		}
		if len([]rune(name)) > maxNameRunes {
			return fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, maxNameRunes)
		}
		project.Name = name
	}

	if len(input.Context) > 0 {
		var decoded map[string]interface{}
		if err := json.Unmarshal(input.Context, &decoded); err != nil {
			return fmt.Errorf("%w: context must be a JSON object", ErrInvalid)
		}
		if decoded == nil {
			project.Context = datatypes.JSON("{}")
		} else {
			project.Context = datatypes.JSON(input.Context)
		}
	}

	if input.Color != nil {
		color := strings.TrimSpace(*input.Color)
		if !colorPattern.MatchString(color) {
			return fmt.Errorf("%w: color must look like #rrggbb", ErrInvalid)
		}
		project.Color = strings.ToLower(color)
	}

	if input.Settings != nil {
		settings := *input.Settings
		settings.Tone = strings.ToLower(strings.TrimSpace(settings.Tone))
		if settings.Tone == "" {
			settings.Tone = ToneFriendly
		}
		if _, ok := validTones[settings.Tone]; !ok {
			return fmt.Errorf("%w: unsupported tone %q", ErrInvalid, settings.Tone)
		}
		if settings.AutoOpenDelay < 0 {
			return fmt.Errorf("%w: auto open delay cannot be negative", ErrInvalid)
		}
		settings.Model = strings.TrimSpace(settings.Model)
		if s.models != nil && !s.models.Allows(settings.Model) {
			return fmt.Errorf("%w: unsupported model %q", ErrInvalid, settings.Model)
		}
		settings.SystemPrompt = strings.TrimSpace(settings.SystemPrompt)
		project.Settings = datatypes.NewJSONType(settings)
	}

	if input.QuickQuestions != nil {
		questions := make([]QuickQuestion, 0, len(*input.QuickQuestions))
		for _, q := range *input.QuickQuestions {
			q.Question = strings.TrimSpace(q.Question)
			q.Answer = strings.TrimSpace(q.Answer)
			if q.Question == "" {
				continue
			}
			questions = append(questions, q)
		}
		if len(questions) > s.maxQuickQuestions {
			return fmt.Errorf("%w: at most %d quick questions", ErrInvalid, s.maxQuickQuestions)
		}
		project.QuickQuestions = datatypes.NewJSONSlice(questions)
	}
	return nil
}

func newSlug(name string) string {
	base := strings.Trim(slugStripper.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(base) > maxSlugBaseLen {
		base = strings.TrimRight(base[:maxSlugBaseLen], "-")
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if base == "" {
		return "project-" + suffix
	}
	return base + "-" + suffix
}

func normalizeQuestion(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("projects: query: %w", err)
}
