package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"mailvault/internal/message/domain"
	"mailvault/pkg/config"

	"github.com/gabriel-vasile/mimetype"
)

// Extensions rejected regardless of the detected MIME type.
var dangerousExtensions = map[string]bool{
	".exe": true, ".dll": true, ".bat": true, ".cmd": true, ".com": true,
	".scr": true, ".pif": true, ".msi": true, ".vbs": true, ".js": true,
	".jar": true, ".ps1": true, ".sh": true, ".app": true,
}

// Scanner is the external content-scan capability. ClamavScanner implements
// it; tests use fakes.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (*ScanResult, error)
}

type ScanResult struct {
	Clean  bool
	Detail string
}

// Verdict is the outcome of validating one attachment.
type Verdict struct {
	Accepted         bool
	Verdict          domain.AttachmentVerdict
	Reason           string
	DeclaredMimeType string
	DetectedMimeType string
	// MimeMismatch flags a disagreement between the provider-declared type
	// and the sniffed content. Gating always uses the sniffed type; the
	// mismatch itself is recorded, not rejected.
	MimeMismatch bool
	ContentHash  string
	ScanDetail   string
}

// Validator gates every attachment before it reaches storage. Checks run
// cheapest first: size, content sniffing, allowlist, extension, then the
// optional external scan.
type Validator struct {
	allowed         map[string]bool
	maxSize         int64
	scanner         Scanner
	rejectOnScanErr bool
}

func NewValidator(cfg *config.Config, scanner Scanner) *Validator {
	allowed := make(map[string]bool, len(cfg.AllowedMimeTypes))
	for _, m := range cfg.AllowedMimeTypes {
		allowed[strings.ToLower(strings.TrimSpace(m))] = true
	}
	return &Validator{
		allowed:         allowed,
		maxSize:         cfg.MaxAttachmentSize,
		scanner:         scanner,
		rejectOnScanErr: cfg.ScanFailurePolicy == config.ScanFailureReject,
	}
}

// Validate inspects the attachment bytes and returns a verdict. Gating runs
// against the sniffed type, never the declared one. The content hash is
// computed even for rejected attachments so rejections can be audited.
func (v *Validator) Validate(ctx context.Context, data []byte, declaredMime, filename string) *Verdict {
	hash := sha256.Sum256(data)
	verdict := &Verdict{
		DeclaredMimeType: declaredMime,
		ContentHash:      hex.EncodeToString(hash[:]),
	}

	if int64(len(data)) > v.maxSize {
		return v.reject(verdict, fmt.Sprintf("size %d exceeds limit %d", len(data), v.maxSize))
	}

	detected := mimetype.Detect(data)
	verdict.DetectedMimeType = detected.String()
	if declaredMime != "" && !detected.Is(declaredMime) {
		verdict.MimeMismatch = true
		log.Printf("[Security] MIME mismatch for %s: declared %s, detected %s",
			filename, declaredMime, detected.String())
	}

	if !v.mimeAllowed(detected) {
		return v.reject(verdict, fmt.Sprintf("mime type %s not in allowlist", detected.String()))
	}

	if ext := strings.ToLower(filepath.Ext(filename)); dangerousExtensions[ext] {
		return v.reject(verdict, fmt.Sprintf("extension %s is blocked", ext))
	}

	if v.scanner != nil {
		result, err := v.scanner.Scan(ctx, data)
		if err != nil {
			log.Printf("[Security] Scan failed for %s: %v", filename, err)
			if v.rejectOnScanErr {
				return v.reject(verdict, "content scan unavailable")
			}
			verdict.Accepted = true
			verdict.Verdict = domain.VerdictUnknown
			verdict.ScanDetail = fmt.Sprintf("scan unavailable: %v", err)
			return verdict
		}
		if !result.Clean {
			verdict.ScanDetail = result.Detail
			return v.reject(verdict, "content scan flagged attachment")
		}
		verdict.ScanDetail = result.Detail
	}

	verdict.Accepted = true
	if v.scanner != nil {
		verdict.Verdict = domain.VerdictSafe
	} else {
		verdict.Verdict = domain.VerdictUnknown
	}
	return verdict
}

func (v *Validator) reject(verdict *Verdict, reason string) *Verdict {
	verdict.Accepted = false
	verdict.Verdict = domain.VerdictUnsafe
	verdict.Reason = reason
	return verdict
}

// mimeAllowed walks the detected type's parent chain so an allowlist entry
// like text/plain also admits its more specific subtypes. MIME.Is ignores
// optional parameters such as charset.
func (v *Validator) mimeAllowed(detected *mimetype.MIME) bool {
	for m := detected; m != nil; m = m.Parent() {
		for allowed := range v.allowed {
			if m.Is(allowed) {
				return true
			}
		}
	}
	return false
}

// SanitizeFilename strips path components and control characters from a
// provider-supplied filename so it is safe to store and display.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "attachment"
	}
	if len(cleaned) > 255 {
		cleaned = cleaned[:255]
	}
	return cleaned
}
