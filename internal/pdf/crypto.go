package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrEncrypted is returned for a protected PDF when no credentials were given.
var ErrEncrypted = errors.New("pdf is encrypted")

// PasswordCredentials contains the passwords for a PDF file.
type PasswordCredentials struct {
	UserPassword  string `json:"user_password,omitempty"`
	OwnerPassword string `json:"owner_password,omitempty"`
}

// PasswordHandler detects and removes PDF encryption.
type PasswordHandler struct {
	defaultCredentials *PasswordCredentials
}

// NewPasswordHandler creates a password handler.
func NewPasswordHandler() *PasswordHandler {
	return &PasswordHandler{}
}

// SetDefaultCredentials sets credentials used when a call passes none.
func (h *PasswordHandler) SetDefaultCredentials(creds *PasswordCredentials) {
	h.defaultCredentials = creds
}

// IsEncrypted checks if a PDF file is password protected.
func (h *PasswordHandler) IsEncrypted(filename string) (bool, error) {
	_, err := api.PageCountFile(filename)
	if err == nil {
		return false, nil
	}
	if isEncryptionError(err) {
		return true, nil
	}
	return false, fmt.Errorf("failed to check PDF encryption status: %w", err)
}

// Decrypt returns filename when it is not encrypted, otherwise the path of a
// decrypted copy with the same base name in a sibling directory.
func (h *PasswordHandler) Decrypt(filename string, creds *PasswordCredentials) (string, error) {
	encrypted, err := h.IsEncrypted(filename)
	if err != nil {
		return "", err
	}
	if !encrypted {
		return filename, nil
	}
	if creds == nil {
		creds = h.defaultCredentials
	}
	if creds == nil || (creds.UserPassword == "" && creds.OwnerPassword == "") {
		return "", ErrEncrypted
	}

	dir := filepath.Join(filepath.Dir(filename), "decrypted")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create decrypt directory: %w", err)
	}
	out := filepath.Join(dir, filepath.Base(filename))
	if err := api.DecryptFile(filename, out, h.config(creds)); err != nil {
		return "", fmt.Errorf("failed to decrypt PDF: %w", err)
	}
	return out, nil
}

func (h *PasswordHandler) config(creds *PasswordCredentials) *model.Configuration {
	config := model.NewDefaultConfiguration()
	config.UserPW = creds.UserPassword
	config.OwnerPW = creds.OwnerPassword
	return config
}

func isEncryptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "encrypted") ||
		strings.Contains(msg, "password") ||
		strings.Contains(msg, "decrypt")
}
