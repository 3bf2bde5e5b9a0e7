package generator

import (
	"context"

	"github.com/avatarlabs/avatar-studio/internal/jobs"
	"github.com/avatarlabs/avatar-studio/internal/service"
)

// Wav2Lip is a declared-but-unimplemented variant. It exists so the backend
// name resolves at configuration time while any job using it fails with a
// clear description of the missing capability.
type Wav2Lip struct{}

func NewWav2Lip() *Wav2Lip {
	return &Wav2Lip{}
}

func (w *Wav2Lip) Generate(context.Context, string, string, string, jobs.Options, jobs.ProgressFunc) error {
	return service.NewError(service.ErrConfig,
		"wav2lip backend is not wired up yet; a typical approach is to build a base video "+
			"from the image and run Wav2Lip to sync the mouth region to the audio")
}
