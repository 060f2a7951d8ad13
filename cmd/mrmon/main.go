package main

import (
	"flag"
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/sugawarayuuta/sonnet"

	"github.com/robotalks/mr.go/pkg/bridge/mqtt"
	"github.com/robotalks/mr.go/pkg/cli/sh"
	"github.com/robotalks/mr.go/pkg/telemetry"
)

var (
	mqttURL = "mqtt://localhost:1883/mr/"
	filter  = "#"
)

func init() {
	if val := os.Getenv("MR_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&filter, "topic", filter, "Topic filter to monitor.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	token := q.Connect()
	if token.Wait(); token.Error() != nil {
		log.Fatalln(token.Error())
	}

	q.Sub(filter, func(topic string, payload []byte) {
		switch {
		case strings.HasSuffix(topic, "/meta"):
			if len(payload) == 0 {
				log.Printf("%s: offline", topic)
				return
			}
			var info mqtt.BoardInfo
			if err := sonnet.Unmarshal(payload, &info); err != nil {
				log.Printf("%s: bad meta: %v", topic, err)
				return
			}
			log.Printf("%s: %s", topic, sh.FormatInfo(info))
			return
		case strings.HasSuffix(topic, "/rx"), strings.HasSuffix(topic, "/tx"):
			log.Printf("%s: %q", topic, payload)
			return
		}
		msg, err := telemetry.Decode(payload)
		if err != nil {
			log.Printf("%s: bad message: %v", topic, err)
			return
		}
		log.Printf("%s: [%s] %s", topic,
			reflect.Indirect(reflect.ValueOf(msg)).Type().Name(),
			msg.Serializable().String())
	})
	<-(chan struct{})(nil)
}
