package kafka

import (
	"time"

	"github.com/IBM/sarama"
)

// NewGroup builds the consumer group that carries provider payment
// notifications. Offsets start at newest: anything older has already
// been reconciled through the HTTP webhook path.
func NewGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "shop-api"
	cfg.Version = sarama.V2_6_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Net.DialTimeout = 5 * time.Second
	return sarama.NewConsumerGroup(brokers, groupID, cfg)
}
