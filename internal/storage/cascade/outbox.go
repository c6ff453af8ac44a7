package cascade

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/crm/internal/domain"
)

// AggregateCustomer — тип агрегата для всех событий хранилища.
const AggregateCustomer = "customer"

type changePayload struct {
	Kind       domain.ChangeKind `json:"kind"`
	CustomerID int64             `json:"customer_id"`
	OrderID    int64             `json:"order_id,omitempty"`
	Amount     string            `json:"amount,omitempty"`
	At         string            `json:"at"`
}

// OutboxMessages превращает изменения операции в сообщения outbox.
func OutboxMessages(changes []domain.Change) ([]domain.OutboxMessage, error) {
	out := make([]domain.OutboxMessage, 0, len(changes))
	for _, ch := range changes {
		p := changePayload{
			Kind:       ch.Kind,
			CustomerID: ch.CustomerID,
			OrderID:    ch.OrderID,
			At:         ch.At.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		}
		if ch.OrderID != 0 {
			p.Amount = ch.Amount.String()
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal change payload: %w", err)
		}
		out = append(out, domain.OutboxMessage{
			ID:            uuid.NewString(),
			AggregateType: AggregateCustomer,
			AggregateID:   strconv.FormatInt(ch.CustomerID, 10),
			EventType:     string(ch.Kind),
			Payload:       payload,
			CreatedAt:     ch.At,
		})
	}
	return out, nil
}
