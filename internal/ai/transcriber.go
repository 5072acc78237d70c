package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const tableSystemPrompt = "Vous êtes un assistant serviable qui peut convertir des tableaux en texte complet en phrases correctes, " +
	"en utilisant les en-têtes de colonne comme sujets et les valeurs de cellule comme attributs. " +
	"Capturez toutes les informations et respectez l'alignement. " +
	"Veuillez ne pas formater le tableau en Markdown ou en HTML et que le texte soit en français."

type ITranscriber interface {
	Transcribe(ctx context.Context, table string) (string, error)
}

// Transcriber rewrites a raw table as descriptive French prose.
type Transcriber struct {
	chatter IChatter
	timeout time.Duration
}

func NewTranscriber(chatter IChatter, timeout time.Duration) *Transcriber {
	return &Transcriber{chatter: chatter, timeout: timeout}
}

func (t *Transcriber) Transcribe(ctx context.Context, table string) (string, error) {
	if t.chatter == nil {
		return "", ErrUnavailable
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	temperature := float32(0)
	messages := []Message{
		{Role: RoleSystem, Content: tableSystemPrompt},
		{Role: RoleUser, Content: table},
	}
	resp, err := t.chatter.Chat(ctx, messages, &ChatOptions{Temperature: &temperature})
	if err != nil {
		return "", fmt.Errorf("transcribe table: %w", err)
	}
	if ContainsTableMarkup(resp) {
		logutil.GetLogger(ctx).Warn("transcription still contains table markup", zap.Int("size", len(resp)))
	}
	return resp, nil
}
