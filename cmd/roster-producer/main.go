// roster-producer publishes roster mutations to the mutation topic. It is an
// operator tool for enrolling or unenrolling members without going through
// the HTTP API, e.g. from a cron job that mirrors an external member list.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// RosterMutation mirrors the message format the consumer expects
type RosterMutation struct {
	EventID    string `json:"event_id"`
	RoomID     string `json:"room_id"`
	Action     string `json:"action"`
	MemberID   int64  `json:"member_id"`
	MemberName string `json:"member_name,omitempty"`
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "roster-mutations", "Kafka topic")
	roomID := flag.String("room", "", "Room ID (required)")
	action := flag.String("action", "enroll", "Mutation action: enroll or unenroll")
	memberID := flag.Int64("member", 0, "Member ID (required)")
	memberName := flag.String("name", "", "Member display name (optional, enroll only)")
	flag.Parse()

	if *roomID == "" || *memberID == 0 {
		flag.Usage()
		log.Fatal("both -room and -member are required")
	}
	if *action != "enroll" && *action != "unenroll" {
		log.Fatalf("unknown action %q, want enroll or unenroll", *action)
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	mutation := RosterMutation{
		EventID:    uuid.New().String(),
		RoomID:     *roomID,
		Action:     *action,
		MemberID:   *memberID,
		MemberName: *memberName,
	}
	data, err := json.Marshal(mutation)
	if err != nil {
		log.Fatalf("Failed to marshal mutation: %v", err)
	}

	// Key by room so all mutations for a room land on one partition and
	// apply in the order they were issued
	partition, offset, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic: *topic,
		Key:   sarama.StringEncoder(*roomID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		log.Fatalf("Failed to send mutation: %v", err)
	}

	fmt.Printf("sent %s for member %d in room %s (event %s, partition %d, offset %d)\n",
		*action, *memberID, *roomID, mutation.EventID, partition, offset)
}
