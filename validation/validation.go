package validation

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"demark/config"
	"demark/errors"
)

type Validator struct {
	config *config.Config
}

func NewValidator(cfg *config.Config) *Validator {
	return &Validator{config: cfg}
}

// ValidateFile checks a single uploaded video before a job is created for it.
func (v *Validator) ValidateFile(fh *multipart.FileHeader) error {
	const op = "Validator.ValidateFile"

	if fh == nil || fh.Filename == "" {
		return errors.InvalidInput(op, nil, "A file name is required")
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		return errors.InvalidInput(op, nil, "File has no extension")
	}

	allowed := false
	for _, e := range v.config.Upload.Extensions {
		if ext == strings.ToLower(e) {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.InvalidInput(op, nil,
			fmt.Sprintf("Unsupported file type %s; allowed: %s",
				ext, strings.Join(v.config.Upload.Extensions, ", ")))
	}

	if fh.Size <= 0 {
		return errors.InvalidInput(op, nil, "File is empty")
	}
	if fh.Size > v.config.Upload.MaxFileSize {
		return errors.InvalidInput(op, nil,
			fmt.Sprintf("File exceeds the %d byte limit", v.config.Upload.MaxFileSize))
	}

	return nil
}

// ValidateBatch checks the whole submission before any job is enqueued.
func (v *Validator) ValidateBatch(files []*multipart.FileHeader) error {
	const op = "Validator.ValidateBatch"

	if len(files) == 0 {
		return errors.InvalidInput(op, nil, "At least one file is required")
	}
	if len(files) > v.config.Upload.MaxBatchSize {
		return errors.InvalidInput(op, nil,
			fmt.Sprintf("Batch exceeds the %d file limit", v.config.Upload.MaxBatchSize))
	}

	for _, fh := range files {
		if err := v.ValidateFile(fh); err != nil {
			return err
		}
	}

	return nil
}

// ValidateAPIKey ensures a key is present, either configured or supplied
// with the request.
func (v *Validator) ValidateAPIKey(override string) error {
	const op = "Validator.ValidateAPIKey"

	if override == "" && v.config.WaveSpeed.APIKey == "" {
		return errors.InvalidInput(op, nil, "A WaveSpeed API key is required")
	}

	return nil
}
