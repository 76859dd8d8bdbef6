package service

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-task-api/internal/dto"
	"github.com/noah-isme/gema-task-api/internal/models"
)

// UploadedFiles maps multipart field names to the files uploaded under them.
type UploadedFiles map[string][]*multipart.FileHeader

// GlobalFilesField is the field name of attachments that belong to the whole submission.
const GlobalFilesField = "files"

// problemFilesField matches problemAnswer[<idx>][files], optionally followed by [] or [<n>].
var problemFilesField = regexp.MustCompile(`^problemAnswer\[(\d+)\]\[files\](?:\[\d*\])?$`)

// AnswerNormalizer turns a raw learner payload into a fully resolved submission.
type AnswerNormalizer struct {
	uploads uploadGuard
	logger  zerolog.Logger
}

// NewAnswerNormalizer builds a normalizer that stores attachments through storage.
func NewAnswerNormalizer(storage FileStorage, maxUploadMB int, logger zerolog.Logger) *AnswerNormalizer {
	return &AnswerNormalizer{
		uploads: newUploadGuard(storage, maxUploadMB),
		logger:  logger.With().Str("component", "answer_normalizer").Logger(),
	}
}

// Normalize resolves the payload against task. Every problem reference and every file is checked
// before any file is stored, so a rejected payload leaves nothing behind. The returned submission
// is not persisted.
func (n *AnswerNormalizer) Normalize(ctx context.Context, task models.Task, userID uint, payload dto.SubmissionCreateRequest, files UploadedFiles) (models.Submission, error) {
	essays, err := decodeEssayAnswers(payload.EssayAnswers)
	if err != nil {
		return models.Submission{}, err
	}

	choices, err := decodeMultipleChoiceAnswers(payload.MultipleChoiceAnswers)
	if err != nil {
		return models.Submission{}, err
	}

	problems, err := resolveProblemAnswers(task, payload.ProblemAnswer)
	if err != nil {
		return models.Submission{}, err
	}

	global, perProblem, err := n.checkFiles(files, len(problems))
	if err != nil {
		return models.Submission{}, err
	}

	globalURLs, err := n.uploads.storeAll(ctx, global)
	if err != nil {
		logOrphanedFiles(n.logger, globalURLs, err)
		return models.Submission{}, err
	}

	stored := append([]string{}, globalURLs...)
	for idx := range problems {
		urls, err := n.uploads.storeAll(ctx, perProblem[idx])
		if err != nil {
			logOrphanedFiles(n.logger, append(stored, urls...), err)
			return models.Submission{}, err
		}
		problems[idx].Files = urls
		stored = append(stored, urls...)
	}

	return models.Submission{
		TaskID:                task.ID,
		UserID:                userID,
		EssayAnswers:          essays,
		MultipleChoiceAnswers: choices,
		ProblemAnswers:        problems,
		Files:                 globalURLs,
	}, nil
}

func (n *AnswerNormalizer) checkFiles(files UploadedFiles, slots int) ([]checkedUpload, map[int][]checkedUpload, error) {
	global := make([]checkedUpload, 0)
	perProblem := make(map[int][]checkedUpload, slots)

	fields := make([]string, 0, len(files))
	for field := range files {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		slot := -1
		if field != GlobalFilesField {
			match := problemFilesField.FindStringSubmatch(field)
			if match == nil {
				n.logger.Debug().Str("field", field).Msg("ignoring upload with unknown field name")
				continue
			}
			idx, err := strconv.Atoi(match[1])
			if err != nil || idx >= slots {
				n.logger.Debug().Str("field", field).Msg("ignoring upload for missing problem answer slot")
				continue
			}
			slot = idx
		}

		for _, header := range files[field] {
			if header == nil {
				continue
			}
			checked, err := n.uploads.check(header)
			if err != nil {
				return nil, nil, err
			}
			if slot < 0 {
				global = append(global, checked)
			} else {
				perProblem[slot] = append(perProblem[slot], checked)
			}
		}
	}

	return global, perProblem, nil
}

// attachmentURLs lists every stored file of a submission, global and per problem.
func attachmentURLs(submission models.Submission) []string {
	urls := append([]string{}, submission.Files...)
	for _, answer := range submission.ProblemAnswers {
		urls = append(urls, answer.Files...)
	}
	return urls
}

// logOrphanedFiles records uploads that reached storage but belong to no saved submission.
func logOrphanedFiles(logger zerolog.Logger, urls []string, cause error) {
	if len(urls) == 0 {
		return
	}
	logger.Warn().Err(cause).Strs("files", urls).Msg("stored attachments orphaned by failed submission")
}

func decodeEssayAnswers(raw dto.JSONOrString) (datatypes.JSONSlice[models.EssayAnswer], error) {
	var inputs []dto.EssayAnswerInput
	if err := raw.Decode(&inputs); err != nil {
		return nil, fmt.Errorf("%w: essayAnswers: %v", ErrInvalidAnswerPayload, err)
	}

	// Scores are grader-owned; anything sent by the learner is dropped.
	answers := make(datatypes.JSONSlice[models.EssayAnswer], 0, len(inputs))
	for _, input := range inputs {
		answers = append(answers, models.EssayAnswer{
			QuestionID: input.QuestionID.String(),
			Answer:     input.Answer,
		})
	}
	return answers, nil
}

func decodeMultipleChoiceAnswers(raw dto.JSONOrString) (datatypes.JSON, error) {
	var records []json.RawMessage
	if err := raw.Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: multipleChoiceAnswers: %v", ErrInvalidAnswerPayload, err)
	}
	if records == nil {
		records = []json.RawMessage{}
	}

	encoded, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("%w: multipleChoiceAnswers: %v", ErrInvalidAnswerPayload, err)
	}
	return datatypes.JSON(encoded), nil
}

func resolveProblemAnswers(task models.Task, raw dto.JSONOrString) (datatypes.JSONSlice[models.ProblemAnswer], error) {
	var inputs []dto.ProblemAnswerInput
	if err := raw.Decode(&inputs); err != nil {
		return nil, fmt.Errorf("%w: problemAnswer: %v", ErrInvalidAnswerPayload, err)
	}

	answers := make(datatypes.JSONSlice[models.ProblemAnswer], 0, len(inputs))
	for _, input := range inputs {
		questionID := input.QuestionID.String()
		problem, ok := task.FindProblem(questionID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProblemReference, questionID)
		}

		answers = append(answers, models.ProblemAnswer{
			QuestionID: questionID,
			Problem:    input.Problem,
			GroupID:    copyUint(problem.GroupID),
			Files:      []string{},
		})
	}
	return answers, nil
}

func copyUint(value *uint) *uint {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
