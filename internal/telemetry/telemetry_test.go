package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"product-bot/internal/logging"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "  ", "product-bot", logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_EnabledReturnsShutdown(t *testing.T) {
	shutdown, err := Setup(context.Background(), "http://127.0.0.1:4318", "product-bot", logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestProjectAttributes(t *testing.T) {
	require.Empty(t, ProjectAttributes("", "", "", ""))

	attrs := ProjectAttributes("eastus.api.azureml.ms", "sub-1", "rg-1", "proj-1")
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	require.Equal(t, map[string]string{
		"cloud.provider":        "azure",
		"cloud.account.id":      "sub-1",
		"azure.resource_group":  "rg-1",
		"azure.ai.project.name": "proj-1",
		"azure.ai.project.host": "eastus.api.azureml.ms",
	}, got)

	require.Len(t, ProjectAttributes("", "", "", "proj-1"), 2)
}

func TestSetup_WithProjectAttributes(t *testing.T) {
	shutdown, err := Setup(context.Background(), "127.0.0.1:4318", "product-bot", logging.Discard(),
		ProjectAttributes("eastus.api.azureml.ms", "sub-1", "rg-1", "proj-1")...)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestExporterOptions(t *testing.T) {
	opts, err := exporterOptions("collector:4318")
	require.NoError(t, err)
	require.Len(t, opts, 2)

	opts, err = exporterOptions("https://collector.example.com")
	require.NoError(t, err)
	require.Len(t, opts, 1)

	opts, err = exporterOptions("http://collector:4318/custom/traces/")
	require.NoError(t, err)
	require.Len(t, opts, 3)

	_, err = exporterOptions("grpc://collector:4317")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported endpoint scheme")

	_, err = exporterOptions("http://")
	require.Error(t, err)
}
