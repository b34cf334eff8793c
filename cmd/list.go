package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/camnode/internal/backend"
)

type listedDevice struct {
	URI     string         `json:"uri"`
	Name    string         `json:"name"`
	Vendor  string         `json:"vendor"`
	Bus     string         `json:"bus,omitempty"`
	Index   int            `json:"index"`
	Modes   []string       `json:"modes,omitempty"`
	Formats []listedFormat `json:"native_formats,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type listedFormat struct {
	FourCC      string   `json:"fourcc"`
	Name        string   `json:"name"`
	Emulated    bool     `json:"emulated,omitempty"`
	Convertible bool     `json:"convertible"`
	Modes       []string `json:"modes"`
}

func nativeFormats(lister backend.FormatLister, index int) ([]listedFormat, error) {
	formats, err := lister.NativeFormats(index)
	if err != nil {
		return nil, err
	}
	out := make([]listedFormat, 0, len(formats))
	for _, f := range formats {
		modes := make([]string, 0, len(f.Modes))
		for _, m := range f.Modes {
			modes = append(modes, m.String())
		}
		out = append(out, listedFormat{
			FourCC:      f.FourCC,
			Name:        f.Name,
			Emulated:    f.Emulated,
			Convertible: f.Convertible,
			Modes:       modes,
		})
	}
	return out, nil
}

// CreateListCmd creates the list command.
func CreateListCmd() *cobra.Command {
	var configFile string
	var backendName string
	var withModes bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cameras",
		Long: `Enumerates cameras with the configured backend and prints their uris. ` +
			`With --modes each camera is opened and its supported modes are probed, ` +
			`and the native formats, sizes and frame rates the driver enumerates are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			initLogging("warn", false)

			reg, _, err := openRegistry(configFile, backendName)
			if err != nil {
				return err
			}
			defer reg.Shutdown()

			lister, canList := reg.Driver().(backend.FormatLister)
			var listed []listedDevice
			for _, rec := range reg.Records() {
				d := listedDevice{URI: rec.URI, Name: rec.Name, Vendor: rec.Vendor, Bus: rec.Bus, Index: rec.Index}
				if withModes {
					dev, openErr := reg.Open(rec.URI)
					if openErr != nil {
						d.Error = openErr.Error()
					} else {
						d.Modes = dev.Modes().Strings()
						_ = reg.Close(dev)
					}
					if canList {
						formats, fmtErr := nativeFormats(lister, rec.Index)
						if fmtErr != nil && d.Error == "" {
							d.Error = fmtErr.Error()
						}
						d.Formats = formats
					}
				}
				listed = append(listed, d)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(listed)
			}

			if len(listed) == 0 {
				fmt.Fprintln(out, "No cameras found")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "URI\tNAME\tBUS\tMODES")
			for _, d := range listed {
				modes := fmt.Sprint(d.Modes)
				if d.Error != "" {
					modes = d.Error
				} else if !withModes {
					modes = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.URI, d.Name, d.Bus, modes)
				for _, f := range d.Formats {
					note := ""
					if !f.Convertible {
						note = " (not convertible)"
					}
					fmt.Fprintf(tw, "  %s\t%s%s\t\t%v\n", f.FourCC, f.Name, note, f.Modes)
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.toml", "Path to configuration file")
	cmd.Flags().StringVar(&backendName, "backend", "", fmt.Sprintf("Camera backend %v, overrides the config file", backend.Names()))
	cmd.Flags().BoolVar(&withModes, "modes", false, "Open each camera and probe its modes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.SetOut(os.Stdout)

	return cmd
}
