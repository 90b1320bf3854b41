package assistant

import "context"

// Echo answers without any network access. It is used when no language
// model is configured.
type Echo struct{}

func (Echo) Reply(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return `I received your message: "` + req.Prompt + `"`, nil
}

func (Echo) Generate(context.Context, string) ([]byte, error) {
	return nil, ErrUnavailable
}
