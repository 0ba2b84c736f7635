package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/topasiaedu/transcribe-upload/internal/models"
)

type createTaskInput struct {
	FileName string  `validate:"required,max=255"`
	FolderID *string `validate:"omitempty,max=64"`
	Language string  `validate:"required,language"`
}

// Recorder creates the PENDING task row that every uploaded file belongs to.
type Recorder struct {
	tasks    TaskStore
	validate *validator.Validate
}

func NewRecorder(tasks TaskStore) *Recorder {
	v := validator.New()
	v.RegisterValidation("language", func(fl validator.FieldLevel) bool {
		_, ok := models.LanguageByCode(fl.Field().String())
		return ok
	})
	return &Recorder{tasks: tasks, validate: v}
}

// CreateTask inserts a PENDING task for fileName. An empty language means
// auto-detect and an empty folder ID means no folder.
func (r *Recorder) CreateTask(ctx context.Context, fileName string, folderID *string, language string) (*models.TranscriptionTask, error) {
	ctx, span := tracer.Start(ctx, "recorder.create_task",
		trace.WithAttributes(attribute.String("file_name", fileName)),
	)
	defer span.End()

	language = strings.TrimSpace(language)
	if language == "" {
		language = models.DefaultLanguage
	}
	if folderID != nil && *folderID == "" {
		folderID = nil
	}

	in := createTaskInput{FileName: fileName, FolderID: folderID, Language: language}
	if err := r.validate.Struct(in); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidArgument, validationMessage(err))
	}

	task, err := r.tasks.InsertTask(ctx, &models.TranscriptionTask{
		FolderID: folderID,
		Status:   models.StatusPending,
		FileName: fileName,
		Language: language,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	span.SetAttributes(attribute.String("task_id", task.ID))
	return task, nil
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "language":
			parts = append(parts, fmt.Sprintf("language %q is not supported", fe.Value()))
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
