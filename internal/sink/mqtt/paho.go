package mqtt

import (
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/topside/helpers"
	"github.com/temoto/topside/log2"
)

const publishTimeout = 10 * time.Second

type ClientConfig struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	QoS          int
	KeepaliveSec int
}

type pahoPublisher struct {
	log *log2.Log
	m   paho.Client
	qos byte
}

type pahoLogger struct {
	log   *log2.Log
	level log2.Level
}

func (self pahoLogger) Println(v ...interface{}) {
	self.log.Log(self.level, "mqtt: "+sprintln(v))
}

func (self pahoLogger) Printf(format string, v ...interface{}) {
	self.log.Logf(self.level, "mqtt: "+format, v...)
}

// Connect does not wait for broker, connection is retried in background.
func Connect(c ClientConfig, log *log2.Log) (Publisher, error) {
	if c.Broker == "" {
		return nil, errors.NotValidf("mqtt broker empty")
	}
	if c.ClientID == "" {
		c.ClientID = "topside"
	}
	paho.ERROR = pahoLogger{log, log2.LError}
	paho.CRITICAL = pahoLogger{log, log2.LError}
	paho.WARN = pahoLogger{log, log2.LInfo}

	self := &pahoPublisher{log: log, qos: byte(c.QoS)}
	willTopic := c.ClientID + "/c"
	opt := paho.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetUsername(c.Username).
		SetPassword(c.Password).
		SetBinaryWill(willTopic, []byte{0x00}, 1, true).
		SetCleanSession(false).
		SetKeepAlive(helpers.IntSecondDefault(c.KeepaliveSec, 60*time.Second)).
		SetPingTimeout(30 * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(m paho.Client) {
			log.Infof("mqtt connect broker=%s", c.Broker)
			m.Publish(willTopic, 1, true, []byte{0x01})
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Infof("mqtt disconnect err=%v", err)
		})
	self.m = paho.NewClient(opt)
	go func() {
		t := self.m.Connect()
		if t.Wait() && t.Error() != nil {
			log.Errorf("mqtt connect broker=%s err=%v", c.Broker, t.Error())
		}
	}()
	return self, nil
}

func (self *pahoPublisher) Publish(topic string, payload []byte) error {
	if !self.m.IsConnected() {
		return errors.Errorf("mqtt not connected")
	}
	t := self.m.Publish(topic, self.qos, false, payload)
	if !t.WaitTimeout(publishTimeout) {
		return errors.Timeoutf("mqtt publish")
	}
	return errors.Trace(t.Error())
}

func (self *pahoPublisher) Close() {
	self.m.Disconnect(250)
}

func sprintln(v []interface{}) string {
	return strings.TrimSuffix(fmt.Sprintln(v...), "\n")
}
