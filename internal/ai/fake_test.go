package ai

import "context"

type fakeCollaborator struct {
	text func(prompt string) (string, error)
	json func(prompt string, files []File) (string, error)
}

func (f fakeCollaborator) GenerateText(_ context.Context, prompt string) (string, error) {
	return f.text(prompt)
}

func (f fakeCollaborator) GenerateJSON(_ context.Context, prompt string, files []File) (string, error) {
	return f.json(prompt, files)
}

func (f fakeCollaborator) Chat(_ context.Context, prompt string, _ *File) (string, error) {
	return f.text(prompt)
}

func jsonReturning(raw string, err error) fakeCollaborator {
	return fakeCollaborator{json: func(string, []File) (string, error) { return raw, err }}
}
