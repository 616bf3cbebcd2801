package main

import (
	"context"
	"fmt"
	"io"

	"github.com/berkguzel/iamguard/internal/options"
	"github.com/berkguzel/iamguard/pkg/analyzer"
	"github.com/berkguzel/iamguard/pkg/aws"
	"github.com/berkguzel/iamguard/pkg/kubernetes"
	"github.com/berkguzel/iamguard/pkg/printer"
	"github.com/berkguzel/iamguard/pkg/scanner"
	"github.com/spf13/cobra"
)

func newPodCmd(opts *options.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pod [NAME]",
		Short: "Scan the IAM role bound to a pod, or to every pod in a namespace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.PodName = args[0]
			}
			return runPod(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Namespace, "namespace", "n", opts.Namespace, "Kubernetes namespace")
	flags.StringVar(&opts.KubeConfig, "kubeconfig", opts.KubeConfig, "Path to the kubeconfig file")
	return cmd
}

func runPod(ctx context.Context, opts *options.Options, out io.Writer) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}

	k8sClient, err := kubernetes.NewClient(opts.KubeConfig)
	if err != nil {
		return err
	}

	awsClient, err := aws.NewClient(ctx, aws.Config{
		Region:      opts.Region,
		MaxAttempts: opts.MaxAttempts,
	})
	if err != nil {
		return err
	}

	a := analyzer.New(k8sClient, scanner.New(awsClient, awsClient, scanner.Options{Workers: opts.Workers}))
	reports, err := a.Analyze(ctx, opts.PodName, opts.Namespace)
	if err != nil {
		return err
	}

	if len(reports) == 0 {
		fmt.Fprintf(out, "No pods with an IAM role found in namespace %s\n", opts.Namespace)
		return nil
	}

	p := printer.New(out)
	for _, rep := range reports {
		if err := p.PrintPod(rep, opts.Output); err != nil {
			return err
		}
	}
	return nil
}
