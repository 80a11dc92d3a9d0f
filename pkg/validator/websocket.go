package validator

import (
	"net"
	"net/url"

	"github.com/go-playground/validator/v10"
)

// Валидатор корректной ссылки на WebSocket
func validatorWebsocket(fl validator.FieldLevel) bool {
	return checkURL(fl, "ws", "wss")
}

// Валидатор адреса MQTT брокера
func validatorMqtt(fl validator.FieldLevel) bool {
	return checkURL(fl, "mqtt", "mqtts", "tcp", "ssl")
}

// Валидатор MAC-адреса узла
func validatorMac(fl validator.FieldLevel) bool {
	address, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	mac, err := net.ParseMAC(address)
	return err == nil && len(mac) == 6
}

func checkURL(fl validator.FieldLevel, schemes ...string) bool {
	address, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	addr, err := url.Parse(address)
	if err != nil || addr.Host == "" {
		return false
	}
	for _, s := range schemes {
		if addr.Scheme == s {
			return true
		}
	}
	return false
}
