package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/factory"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/util"
)

func main() {
	f, err := factory.NewFactory(context.Background())
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}

	lambda.StartWithOptions(
		f.CognitoHandler().DefineAuthChallenge,
		lambda.WithEnableSIGTERM(func() { _ = f.Close() }),
	)
}
