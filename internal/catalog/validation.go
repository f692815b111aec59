package catalog

import (
	"errors"
	"strings"
)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return errNameRequired
	}
	if p.Cost < 0 {
		return errors.New("catalog: product cost must be >= 0")
	}
	return nil
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}
