package providers

import (
	"context"
	"time"

	"github.com/nordlys/erasure/utils"
)

type RequestState string

const (
	StatePending   RequestState = "pending"
	StateCompleted RequestState = "completed"
)

// Subject is the unit of deletion handed to every provider. DeviceIDs is
// resolved once per pass from the analytical store; providers that operate on
// the opaque subject id ignore it.
type Subject struct {
	ID        string
	DeviceIDs []string
}

// DeletionProvider is the contract every external deletion platform is
// adapted to. CreateRequest is called at most once per subject per provider:
// once a handle is stored in the ledger, only Poll is used. Synchronous
// providers return StateCompleted from CreateRequest and implement Poll as a
// constant StateCompleted so the orchestrator loop stays uniform.
type DeletionProvider interface {
	Name() string
	CreateRequest(ctx context.Context, subject Subject) (string, RequestState, error)
	Poll(ctx context.Context, handle string) (RequestState, error)
}

// ProviderWrapper wraps a DeletionProvider with a circuit breaker so one
// failing platform cannot burn the whole pass on timeouts.
type ProviderWrapper struct {
	provider       DeletionProvider
	circuitBreaker *utils.CircuitBreaker
}

func CreateProviderWrapper(provider DeletionProvider) *ProviderWrapper {
	return &ProviderWrapper{
		provider:       provider,
		circuitBreaker: utils.CreateCircuitBreaker(5, 30*time.Second),
	}
}

func (w *ProviderWrapper) Name() string {
	return w.provider.Name()
}

func (w *ProviderWrapper) CreateRequest(ctx context.Context, subject Subject) (string, RequestState, error) {
	var handle string
	var state RequestState
	err := w.circuitBreaker.Execute(ctx, func() error {
		var err error
		handle, state, err = w.provider.CreateRequest(ctx, subject)
		return err
	})
	if err != nil {
		return "", "", &utils.ProviderError{Provider: w.provider.Name(), Op: "create", Err: err}
	}
	return handle, state, nil
}

func (w *ProviderWrapper) Poll(ctx context.Context, handle string) (RequestState, error) {
	var state RequestState
	err := w.circuitBreaker.Execute(ctx, func() error {
		var err error
		state, err = w.provider.Poll(ctx, handle)
		return err
	})
	if err != nil {
		return "", &utils.ProviderError{Provider: w.provider.Name(), Op: "poll", Err: err}
	}
	return state, nil
}

func (w *ProviderWrapper) CircuitState() utils.CircuitState {
	return w.circuitBreaker.GetState()
}
