package cmd

import (
	"os"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/brocaar/lora-packet-multiplexer/internal/config"
)

var configTemplate = `# Logging settings.
[logging]

  # Log level.
  #
  # Valid options are:
  #   * trace
  #   * debug
  #   * info
  #   * warning
  #   * error
  #   * fatal
  #   * panic
  level="{{ .Logging.Level }}"


# Multiplexer configuration.
[multiplexer]

  # Interface:port of UDP bind.
  #
  # This is the interface:port on which the multiplexer will receive
  # data from the gateways.
  bind="{{ .Multiplexer.Bind }}"

  # Servers to forward gateway data to.
  #
  # Example configuration:
  # [[multiplexer.server]]

  #   # Hostname:port of the server.
  #   server="example.com:1700"

  #   # Only allow uplink.
  #   #
  #   # If set to true, any downlink will be discarded.
  #   uplink_only=false

  #   # Gateway ID prefix filters.
  #   #
  #   # If not set, data of all gateways will be forwarded. If set, only data
  #   # from gateways with a matching Gateway ID will be forwarded.
  #   #
  #   # Examples:
  #   # * "0102030405060708/64": Exact match (all 64 bits of the filter must match)
  #   # * "0102030400000000/32": All gateway IDs ending with "04030201" (filter on 32 most significant bits of the byte-reversed Gateway ID)
  #   gateway_id_prefixes=[]
{{ range .Multiplexer.Servers }}
  [[multiplexer.server]]
    server="{{ .Server }}"
    uplink_only={{ .UplinkOnly }}
    gateway_id_prefixes=[{{ range .GatewayIDPrefixes }}
      "{{ . }}",{{ end }}
    ]
{{ end }}

# Monitoring configuration.
[monitoring]

  # Interface:port.
  #
  # If set, this will enable the monitoring endpoints. If not set, the
  # endpoint will be disabled. Endpoints:
  #
  # * /metrics: exposes Prometheus metrics.
  bind="{{ .Monitoring.Bind }}"


# Tracing configuration.
[tracing]

  # Enable tracing.
  enabled={{ .Tracing.Enabled }}

  # Jaeger agent / collector endpoint.
  jaeger_endpoint="{{ .Tracing.JaegerEndpoint }}"
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		return t.Execute(os.Stdout, config.C)
	},
}
