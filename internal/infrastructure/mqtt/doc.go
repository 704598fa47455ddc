// Package mqtt connects graysql to an MQTT broker so commands can be
// issued over a message bus as well as HTTP.
//
// Callers publish a JSON request on graysql/request/{command}/{request_id}
// and receive the reply on graysql/response/{request_id}. The retained
// graysql/system/status topic carries an online/offline record, with the
// offline record installed as the connection's Last Will.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllRequests(), 1, handle)
//
// Subscriptions survive reconnects. Handler panics are recovered and
// logged through the Logger set with SetLogger.
package mqtt
