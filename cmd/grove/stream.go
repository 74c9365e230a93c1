package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run the DynamoDB stream cache invalidator as a Lambda function",
	Long: `Starts the Lambda runtime loop. Each stream batch evicts the
changed entities from the entity cache and clears the finder cache of every
touched model. Only meaningful with the dynamodb backend.`,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, _ []string) error {
	app, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	lambda.Start(app.StreamHandler().Handle)
	return nil
}
