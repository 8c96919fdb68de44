// File: cmd/personas.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/observability"
	"github.com/xkilldash9x/focusgroup/internal/persona"
	"github.com/xkilldash9x/focusgroup/internal/service"
)

func newPersonasCmd(root *rootOptions) *cobra.Command {
	personasCmd := &cobra.Command{
		Use:   "personas",
		Short: "Manage focus group personas",
	}
	personasCmd.AddCommand(newPersonasGenerateCmd(root))
	return personasCmd
}

// newPersonasGenerateCmd creates `personas generate`, which expands a
// template into distinct personas that can be edited and reused.
func newPersonasGenerateCmd(root *rootOptions) *cobra.Command {
	var (
		tmpl   schemas.PersonaTemplate
		count  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates personas from a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if err := tmpl.Validate(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("count") {
				count = root.cfg.FocusGroup().PersonaCount
			}

			gen, cleanup, err := service.InitializePersonaGenerator(ctx, root.cfg, logger, root.newLLM)
			if err != nil {
				return err
			}
			defer cleanup()

			personas, err := gen.Generate(ctx, tmpl, count)
			if err != nil {
				return fmt.Errorf("persona generation failed: %w", err)
			}
			logger.Info("Personas generated.", zap.Int("count", len(personas)))

			if output != "" {
				return persona.WriteFile(output, personas)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(persona.File{Personas: personas}); err != nil {
				return fmt.Errorf("failed to encode personas: %w", err)
			}
			return enc.Close()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&tmpl.Role, "role", "", "Role shared by the generated personas (required)")
	flags.StringVar(&tmpl.PrimaryGoal, "goal", "", "Primary goal shared by the generated personas (required)")
	flags.StringVar(&tmpl.ExperienceLevel, "experience", "", "Experience level: novice, intermediate or expert")
	flags.StringVar(&tmpl.Context, "context", "", "Situation the personas arrive in")
	flags.StringVar(&tmpl.AdditionalDetails, "details", "", "Free-form details for the generator")
	flags.IntVarP(&count, "count", "n", 0, "Number of personas (default is focus_group.persona_count)")
	flags.StringVarP(&output, "output", "o", "", "Persona file to write (default is stdout)")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("goal")

	return cmd
}
