package ingest

import mqtt "github.com/eclipse/paho.mqtt.golang"

type message struct {
	mqtt.Message
	payload []byte
}

func (m message) Payload() []byte { return m.payload }

func fakeMessage(payload string) mqtt.Message {
	return message{payload: []byte(payload)}
}
