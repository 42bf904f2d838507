package config

import (
	"context"
	"net"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const fallbackIP = "0.0.0.0"

// DeterminePublicIP picks the address announced in IDENTIFY.
func (conf *Config) DeterminePublicIP(ctx context.Context) string {
	if conf.PublicIP != "" {
		return conf.PublicIP
	}
	if conf.UseExternalIP {
		servers := conf.STUNServers
		if len(servers) == 0 {
			servers = DefaultStunServers
		}
		ip, err := GetExternalIP(ctx, servers)
		if err == nil {
			return ip
		}
		log.Warn().Err(err).Str("module", "config").Msg("stun lookup failed, falling back to local address")
	}
	addresses, err := GetLocalIPAddresses(false)
	if err != nil || len(addresses) == 0 {
		log.Warn().Err(err).Str("module", "config").Msg("no usable local address")
		return fallbackIP
	}
	return addresses[0]
}

func GetLocalIPAddresses(includeLoopback bool) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	loopBacks := make([]string, 0)
	addresses := make([]string, 0)
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch typedAddr := addr.(type) {
			case *net.IPNet:
				ip = typedAddr.IP.To4()
			case *net.IPAddr:
				ip = typedAddr.IP.To4()
			default:
				continue
			}
			if ip == nil {
				continue
			}
			if ip.IsLoopback() {
				loopBacks = append(loopBacks, ip.String())
			} else {
				addresses = append(addresses, ip.String())
			}
		}
	}

	if includeLoopback {
		addresses = append(addresses, loopBacks...)
	}
	if len(addresses) > 0 {
		return addresses, nil
	}
	if len(loopBacks) > 0 {
		return loopBacks, nil
	}
	return nil, errors.New("could not find local IP address")
}

// GetExternalIP asks the first STUN server for our reflexive address.
func GetExternalIP(ctx context.Context, stunServers []string) (string, error) {
	if len(stunServers) == 0 {
		return "", errors.New("STUN servers are required but not defined")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", stunServers[0])
	if err != nil {
		return "", err
	}
	c, err := stun.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	defer c.Close()

	message, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return "", err
	}

	// buffered so the callback never blocks
	ipChan := make(chan string, 1)
	errChan := make(chan error, 1)
	err = c.Start(message, func(res stun.Event) {
		if res.Error != nil {
			errChan <- res.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			errChan <- err
			return
		}
		if ip := xorAddr.IP.To4(); ip != nil {
			ipChan <- ip.String()
		}
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	select {
	case ip := <-ipChan:
		return ip, nil
	case err := <-errChan:
		return "", errors.Wrap(err, "could not determine public IP")
	case <-ctx.Done():
		return "", errors.New("could not determine public IP")
	}
}
