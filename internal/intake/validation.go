package intake

// validation.go classifies a batch of candidates before anything touches the store.
//
// Validation happens at two levels:
//  1. Candidate checks: byte size, then media type. The first failure wins.
//  2. Batch checks: single-file mode first, then the accepted-count limit.
//
// Batch checks only see candidates that passed their own checks. When a batch
// check truncates, a single rejection is emitted for the whole batch and the
// dropped candidates get no individual reason.

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// RejectReason classifies why a candidate or batch was refused.
type RejectReason string

const (
	ReasonTooLarge         RejectReason = "too_large"
	ReasonTypeNotAccepted  RejectReason = "type_not_accepted"
	ReasonOnlyOneAllowed   RejectReason = "only_one_allowed"
	ReasonMaxCountExceeded RejectReason = "max_count_exceeded"
)

// Rejection describes a refused candidate, or a refused remainder of a batch.
type Rejection struct {
	FileName string       `json:"fileName"`
	Reason   RejectReason `json:"reason"`
	Message  string       `json:"message"`
}

func (r Rejection) Error() string {
	return r.Message
}

// ValidationResult is the outcome of Validate. It is never stored.
type ValidationResult struct {
	Accepted   []Payload
	Rejections []Rejection
}

// Validate classifies batch given the number of already-accepted entries.
// It performs no I/O and no mutation; identical inputs give identical results.
func Validate(alreadyAccepted int, c Constraints, batch []Payload) ValidationResult {
	var result ValidationResult
	provisional := make([]Payload, 0, len(batch))

	for _, p := range batch {
		if rej, ok := checkCandidate(p, c); !ok {
			result.Rejections = append(result.Rejections, rej)
			continue
		}
		provisional = append(provisional, p)
	}

	if len(provisional) == 0 {
		return result
	}

	total := alreadyAccepted + len(provisional)
	maxFiles := c.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	switch {
	case !c.Multiple && total > 1:
		keep := 1
		if alreadyAccepted > 0 {
			keep = 0
		}
		result.Rejections = append(result.Rejections, Rejection{
			FileName: provisional[keep].Name(),
			Reason:   ReasonOnlyOneAllowed,
			Message:  "only one file can be added",
		})
		provisional = provisional[:keep]

	case total > maxFiles:
		keep := max(0, maxFiles-alreadyAccepted)
		result.Rejections = append(result.Rejections, Rejection{
			FileName: provisional[keep].Name(),
			Reason:   ReasonMaxCountExceeded,
			Message:  fmt.Sprintf("at most %d files can be added", maxFiles),
		})
		provisional = provisional[:keep]
	}

	result.Accepted = provisional
	return result
}

// checkCandidate applies the per-candidate checks in their fixed order.
func checkCandidate(p Payload, c Constraints) (Rejection, bool) {
	if c.MaxFileSize > 0 && p.Size() > c.MaxFileSize {
		return Rejection{
			FileName: p.Name(),
			Reason:   ReasonTooLarge,
			Message: fmt.Sprintf("%s is too large (%s, limit %s)",
				p.Name(), humanize.IBytes(uint64(p.Size())), humanize.IBytes(uint64(c.MaxFileSize))),
		}, false
	}

	if !MatchAccept(c.Accept, p.MediaType(), p.Name()) {
		return Rejection{
			FileName: p.Name(),
			Reason:   ReasonTypeNotAccepted,
			Message:  fmt.Sprintf("%s has a file type that is not accepted (%s)", p.Name(), displayType(p.MediaType())),
		}, false
	}

	return Rejection{}, true
}

// MatchAccept reports whether a file with the given media type and name
// satisfies the accept pattern. The pattern is a comma separated list of
// "*", "*/*", "type/*", "type/subtype" or ".ext" entries; an empty pattern
// accepts everything.
func MatchAccept(pattern, mediaType, name string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return true
	}

	mt := normalizeMediaType(mediaType)
	ext := strings.ToLower(filepath.Ext(name))

	for _, entry := range strings.Split(pattern, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
			continue
		case entry == "*" || entry == "*/*":
			return true
		case strings.HasPrefix(entry, "."):
			if ext != "" && ext == entry {
				return true
			}
		case strings.HasSuffix(entry, "/*"):
			if mt != "" && strings.HasPrefix(mt, strings.TrimSuffix(entry, "*")) {
				return true
			}
		default:
			if mt != "" && mt == entry {
				return true
			}
		}
	}
	return false
}

// normalizeMediaType strips parameters and lowercases. Unparseable values
// normalize to "".
func normalizeMediaType(mediaType string) string {
	if mediaType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func displayType(mediaType string) string {
	if mt := normalizeMediaType(mediaType); mt != "" {
		return mt
	}
	return "unknown type"
}
