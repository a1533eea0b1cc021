// Package provider provides the AI completion clients used by the executor.
//
// Every client implements Provider on top of an Eino ToolCallingChatModel
// and streams its answer through a CompletionStream.
//
// # Supported Providers
//
//   - anthropic: Claude models through eino-ext/components/model/claude
//   - bedrock: Claude models on AWS Bedrock, credentials from the AWS chain
//   - openai: GPT models through eino-ext/components/model/openai
//   - azure: Azure OpenAI deployments
//   - ark: Volcengine ARK endpoints through eino-ext/components/model/ark
//   - any other ID with a baseURL: an OpenAI-compatible endpoint
//
// # Selection
//
// FromConfig reads the "provider/model" string in Config.Model. When the
// config names no provider, the first of anthropic, openai and ark that has
// an API key is used. No usable provider yields ErrNoProvider.
//
//	p, err := provider.FromConfig(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	stream, err := p.CreateCompletion(ctx, provider.NewPrompt("", "Say hi"))
//	if err != nil {
//	    return err
//	}
//	text, err := stream.Each(func(delta string) error {
//	    fmt.Print(delta)
//	    return nil
//	})
package provider
