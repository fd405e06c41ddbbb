package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"meetingapp-backend/internal/bootstrap"
	"meetingapp-backend/internal/shared/config"
	"meetingapp-backend/internal/shared/server/respond"
)

// proxy holds the adapter for a warm container. A failed bootstrap is
// retried on the next invocation.
type proxy struct {
	mu    sync.Mutex
	build func() (*ginadapter.GinLambdaV2, error)
	gin   *ginadapter.GinLambdaV2
}

func (p *proxy) get() (*ginadapter.GinLambdaV2, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gin != nil {
		return p.gin, nil
	}
	g, err := p.build()
	if err != nil {
		return nil, err
	}
	p.gin = g
	return g, nil
}

func (p *proxy) handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	g, err := p.get()
	if err != nil {
		log.Printf("bootstrap error: %v", err)
		return errorResponse(http.StatusServiceUnavailable, "bootstrap_failed", "service is starting, retry later"), nil
	}
	return g.ProxyWithContext(ctx, req)
}

func errorResponse(status int, code, msg string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{Error: respond.ErrorBody{Code: code, Message: msg}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	p := &proxy{build: func() (*ginadapter.GinLambdaV2, error) {
		app, err := bootstrap.Build(config.Load())
		if err != nil {
			return nil, err
		}
		return ginadapter.NewV2(app.Router), nil
	}}
	lambda.Start(p.handle)
}
