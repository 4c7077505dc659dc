package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractCat handles ODT and RTF, detecting the format from the content.
func extractCat(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return text, nil
}
