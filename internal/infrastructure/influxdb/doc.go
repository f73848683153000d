// Package influxdb records MQTT operation samples in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library with a non-blocking,
// batched write API. Each publish and receive becomes one point in the
// mqtt_operations measurement:
//
//	mqtt_operations,op=publish,outcome=ok,broker=localhost:1883 topic="devices/foo",qos=1i,duration_ms=12.4,bytes=13i
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   os.Getenv("MQTTMCP_INFLUXDB_TOKEN"),
//	    Org:     "home",
//	    Bucket:  "mqtt",
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) {
//	    logger.Warn("influxdb write failed", "error", err)
//	})
package influxdb
