package memory

import (
	"testing"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}
